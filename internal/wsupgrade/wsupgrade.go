// Package wsupgrade recognizes a WebSocket upgrade handshake from request
// and response headers, grounded on gorilla/websocket's token-list header
// convention (Connection: Upgrade, Upgrade: websocket). It implements
// detection only; frame I/O is out of scope for the terminal stage, which
// only needs to decide whether to attach an empty body for a 101.
package wsupgrade

import (
	"net/http"
	"strings"
)

// IsUpgrade reports whether a 101 response to reqHeader is a WebSocket
// handshake rather than some other protocol switch, by checking both
// sides carry the Connection/Upgrade token pair gorilla/websocket looks
// for on a Dial.
func IsUpgrade(reqHeader, respHeader http.Header) bool {
	return tokenListContainsValue(reqHeader, "Connection", "upgrade") &&
		tokenListContainsValue(reqHeader, "Upgrade", "websocket") &&
		tokenListContainsValue(respHeader, "Connection", "upgrade") &&
		tokenListContainsValue(respHeader, "Upgrade", "websocket")
}

// tokenListContainsValue reports whether any comma-separated token in
// header's values for name equals value, case-insensitively.
func tokenListContainsValue(header http.Header, name, value string) bool {
	for _, field := range header.Values(name) {
		for _, tok := range strings.Split(field, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), value) {
				return true
			}
		}
	}
	return false
}
