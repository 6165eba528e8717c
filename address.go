package fastclient

import "github.com/searchktools/fastclient/internal/addr"

// Address, Route, and ConnectionSpec are defined in internal/addr so the
// connection finder can consume them without importing this package;
// they are aliased here to keep the public API in package fastclient.
type (
	Address        = addr.Address
	Route          = addr.Route
	ConnectionSpec = addr.ConnectionSpec
	Proxy          = addr.Proxy
)

// PlaintextConnectionSpec is used for cleartext (http://) addresses.
var PlaintextConnectionSpec = addr.PlaintextConnectionSpec

// ModernTLSConnectionSpec is the default spec used for https:// addresses.
var ModernTLSConnectionSpec = addr.ModernTLSConnectionSpec
