package mcpclient

import (
	"context"
	"io"
	"net/http"
	"net/textproto"
	"strings"
)

// hopByHopHeaders are connection-scoped and never cross the proxy in either
// direction. Everything else passes through untouched, Mcp-Session-Id,
// MCP-Protocol-Version, Last-Event-ID and Authorization included.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"TE",
	"Trailer",
	"Upgrade",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
}

// CopyProxyHeader copies src into dst applying the passthrough rules: drop
// hop-by-hop headers, any header the Connection header names, and the
// framing headers the transport recomputes (Host, Content-Length).
func CopyProxyHeader(dst, src http.Header) {
	connectionScoped := map[string]bool{}
	for _, h := range hopByHopHeaders {
		connectionScoped[textproto.CanonicalMIMEHeaderKey(h)] = true
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			name = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
			if name != "" {
				connectionScoped[name] = true
			}
		}
	}

	for name, values := range src {
		if connectionScoped[textproto.CanonicalMIMEHeaderKey(name)] {
			continue
		}
		if name == "Host" || name == "Content-Length" {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// Forward relays a request to the upstream as opaque bytes and returns the
// raw response. The body may be buffered JSON or a live SSE stream; the
// caller inspects Content-Type and bridges accordingly. The transport's
// header timeout bounds only the wait for the first byte, so streams run
// until one side hangs up; cancelling ctx tears down the upstream read.
func (c *Client) Forward(ctx context.Context, method, url string, header http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	CopyProxyHeader(req.Header, header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

// OpenSSE opens a GET-initiated server-push stream. Last-Event-ID in header
// passes through so a reconnecting client resumes against the upstream.
func (c *Client) OpenSSE(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	return c.Forward(ctx, http.MethodGet, url, header, nil)
}
