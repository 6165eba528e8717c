package fastclient

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
)

// defaultUserAgent mirrors the form OkHttp's BridgeInterceptor stamps on
// every request that doesn't already carry one.
const defaultUserAgent = "fastclient/1.0"

// bridgeInterceptor translates a user-facing request into the form the
// network actually expects and translates the network's response back:
// it fills in ambient headers (User-Agent, Accept-Encoding), attaches
// cookies from the jar, stores cookies the server sent back, and
// transparently decompresses a gzip response body the request itself
// didn't ask for explicitly.
type bridgeInterceptor struct {
	client *Client
}

var _ Interceptor = (*bridgeInterceptor)(nil)

func (bi *bridgeInterceptor) Intercept(chain Chain) (*Response, error) {
	userReq := chain.Request()
	netReq := userReq.clone()

	if netReq.Header.Get("User-Agent") == "" {
		netReq.Header.Set("User-Agent", defaultUserAgent)
	}

	transparentGzip := false
	if netReq.Header.Get("Accept-Encoding") == "" && netReq.Header.Get("Range") == "" {
		netReq.Header.Set("Accept-Encoding", "gzip")
		transparentGzip = true
	}

	if bi.client.cookieJar != nil {
		if cookies := bi.client.cookieJar.Cookies(netReq.URL); len(cookies) > 0 {
			netReq.Header.Set("Cookie", encodeCookies(cookies))
		}
	}

	resp, err := chain.Proceed(netReq)
	if err != nil {
		return nil, err
	}

	if bi.client.cookieJar != nil {
		if cookies := (&http.Response{Header: resp.Header}).Cookies(); len(cookies) > 0 {
			bi.client.cookieJar.SetCookies(netReq.URL, cookies)
		}
	}

	if transparentGzip && strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		body := resp.Body
		gz, gzErr := gzip.NewReader(body)
		if gzErr == nil {
			resp.Header.Del("Content-Encoding")
			resp.Header.Del("Content-Length")
			resp.Body = &gzipBody{gz: gz, underlying: body}
		}
	}

	resp.Request = userReq
	return resp, nil
}

// gzipBody closes both the gzip reader and the underlying network body
// when the caller is done with the decompressed stream.
type gzipBody struct {
	gz         io.ReadCloser
	underlying io.ReadCloser
}

func (b *gzipBody) Read(p []byte) (int, error) { return b.gz.Read(p) }

func (b *gzipBody) Close() error {
	err := b.gz.Close()
	if uerr := b.underlying.Close(); err == nil {
		err = uerr
	}
	return err
}

func encodeCookies(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
