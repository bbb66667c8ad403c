package handlers

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mcp-guardian/guardian/internal/httpserver/deps"
	"github.com/mcp-guardian/guardian/internal/logger"
	"github.com/mcp-guardian/guardian/internal/mcpclient"
	"github.com/mcp-guardian/guardian/internal/utils"
)

// Proxy is the transparent relay for /{service}/mcp. It consults the route
// registry exactly once at dispatch, forwards bytes untouched in both
// directions, and bridges SSE streams frame by frame. No retries: MCP is
// stateful and a replay could duplicate side effects upstream.
func Proxy(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "service")

		entry, ok := d.Registry.Lookup(name)
		if !ok {
			d.Logger.Warn("request to unknown service", logger.String("service", name))
			respondJSON(w, http.StatusNotFound, map[string]string{"error": "Service not configured"})
			return
		}
		if !entry.Enabled {
			d.Logger.Warn("request to disabled service", logger.String("service", name))
			respondJSON(w, http.StatusForbidden, map[string]string{"error": "Service disabled pending review"})
			return
		}

		// Client disconnect cancels the upstream read through this context.
		ctx, cancel := context.WithCancel(r.Context())

		var resp *http.Response
		var err error
		if r.Method == http.MethodGet {
			// GET-initiated server-push stream; Last-Event-ID rides along.
			resp, err = d.Upstream.OpenSSE(ctx, entry.UpstreamURL, r.Header)
		} else {
			resp, err = d.Upstream.Forward(ctx, r.Method, entry.UpstreamURL, r.Header, r.Body)
		}
		if err != nil {
			cancel()
			status := http.StatusBadGateway
			msg := "Upstream unreachable"
			if errors.Is(err, mcpclient.ErrUpstreamTimeout) {
				status = http.StatusGatewayTimeout
				msg = "Upstream timeout"
			}
			d.Logger.Error("proxy forward failed",
				logger.String("service", name),
				logger.Error(err))
			respondJSON(w, status, map[string]string{"error": msg})
			return
		}

		// Closing the stream cancels the upstream read, so a bridge that
		// returns early still releases the connection promptly.
		stream := &utils.CancelOnClose{ReadCloser: resp.Body, Cancel: cancel}
		defer utils.Close(stream)

		mcpclient.CopyProxyHeader(w.Header(), resp.Header)

		if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
			w.WriteHeader(resp.StatusCode)
			bridgeSSE(w, stream)
			return
		}

		// Buffered response: mirror status and body byte-for-byte.
		body, err := io.ReadAll(stream)
		if err != nil {
			d.Logger.Error("reading upstream response failed",
				logger.String("service", name),
				logger.Error(err))
			respondJSON(w, http.StatusBadGateway, map[string]string{"error": "Upstream unreachable"})
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(body)
	}
}

// bridgeSSE copies the upstream event stream through verbatim, flushing at
// every frame boundary so events reach the client as they arrive. id: lines
// pass through untouched, which is what lets a reconnecting client resume
// with Last-Event-ID against the upstream. When the upstream hangs up the
// downstream stream ends with a clean EOF; reconnecting is the client's
// job.
func bridgeSSE(w http.ResponseWriter, upstream io.Reader) {
	flusher, canFlush := w.(http.Flusher)
	reader := bufio.NewReader(upstream)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(line); werr != nil {
				return
			}
			if canFlush && isFrameBoundary(line) {
				flusher.Flush()
			}
		}
		if err != nil {
			// EOF, upstream disconnect, or cancelled client context.
			if canFlush {
				flusher.Flush()
			}
			return
		}
	}
}

func isFrameBoundary(line []byte) bool {
	return string(line) == "\n" || string(line) == "\r\n"
}
