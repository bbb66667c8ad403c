// Package mcpclient is a thin typed client for MCP over Streamable HTTP.
// It issues JSON-RPC 2.0 calls for the lifecycle and listing methods the
// snapshotter needs, and forwards raw requests byte-for-byte for the proxy
// engine. It never inspects or rewrites payloads it forwards.
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mcp-guardian/guardian/internal/logger"
	"github.com/mcp-guardian/guardian/internal/utils"
)

const (
	clientName      = "mcp-guardian"
	clientVersion   = "0.1.0"
	protocolVersion = "2024-11-05"

	// codeMethodNotFound is the JSON-RPC error for an unimplemented method.
	// Servers that omit optional listing methods answer with it; the caller
	// treats that as an empty list.
	codeMethodNotFound = -32601
)

var (
	// ErrUpstreamUnreachable means the upstream could not be reached at all.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	// ErrUpstreamTimeout means the per-call deadline elapsed before the
	// first response byte.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamProtocol means the upstream answered with a non-2xx status
	// or a malformed JSON-RPC payload.
	ErrUpstreamProtocol = errors.New("upstream protocol error")
)

// JSONRPCError is an error object returned by the upstream inside a
// well-formed JSON-RPC response.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// InitResult is the subset of the initialize response the snapshotter cares
// about. Capabilities and ServerInfo stay as raw maps so unknown upstream
// keys survive into the fingerprint.
type InitResult struct {
	ProtocolVersion string
	Capabilities    map[string]any
	ServerInfo      map[string]any
}

// Client talks to upstream MCP endpoints.
type Client struct {
	http        *http.Client
	callTimeout time.Duration
	logger      logger.Logger
}

// New builds a client. callTimeout bounds each typed call and, for raw
// forwards, only the wait for the first response byte: SSE streams must run
// unbounded once headers arrive, so the deadline sits on the transport's
// header wait rather than on the whole exchange.
func New(callTimeout time.Duration, log logger.Logger) *Client {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = callTimeout
	return &Client{
		http:        &http.Client{Transport: transport},
		callTimeout: callTimeout,
		logger:      log,
	}
}

// Initialize performs the MCP initialize handshake with a fixed client
// identity and returns the server's advertised surface roots.
func (c *Client) Initialize(ctx context.Context, url string) (*InitResult, error) {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"roots":    map[string]any{"listChanged": false},
			"sampling": map[string]any{},
		},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}

	result, err := c.call(ctx, url, "initialize", params)
	if err != nil {
		return nil, err
	}

	var init struct {
		ProtocolVersion string         `json:"protocolVersion"`
		Capabilities    map[string]any `json:"capabilities"`
		ServerInfo      map[string]any `json:"serverInfo"`
	}
	if err := decodeResult(result, &init); err != nil {
		return nil, err
	}
	if init.ProtocolVersion == "" {
		return nil, fmt.Errorf("%w: initialize result missing protocolVersion", ErrUpstreamProtocol)
	}
	return &InitResult{
		ProtocolVersion: init.ProtocolVersion,
		Capabilities:    init.Capabilities,
		ServerInfo:      init.ServerInfo,
	}, nil
}

// listResultKeys maps a listing method to the array member of its result.
var listResultKeys = map[string]string{
	"tools/list":               "tools",
	"resources/list":           "resources",
	"resources/templates/list": "resourceTemplates",
	"prompts/list":             "prompts",
}

// List exhausts one of the paginated listing methods, advancing the opaque
// cursor until the upstream stops returning one. A "method not found" reply
// yields an empty list: optional surfaces count as absent, not broken.
func (c *Client) List(ctx context.Context, url, method string) ([]map[string]any, error) {
	key, ok := listResultKeys[method]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported list method %q", ErrUpstreamProtocol, method)
	}

	var items []map[string]any
	cursor := ""
	for {
		var params map[string]any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}

		result, err := c.call(ctx, url, method, params)
		if err != nil {
			var rpcErr *JSONRPCError
			if errors.As(err, &rpcErr) && rpcErr.Code == codeMethodNotFound {
				c.logger.Debug("upstream does not implement method, treating as empty",
					logger.String("method", method))
				return []map[string]any{}, nil
			}
			return nil, err
		}

		var page map[string]json.RawMessage
		if err := decodeResult(result, &page); err != nil {
			return nil, err
		}

		if raw, ok := page[key]; ok {
			var pageItems []map[string]any
			if err := decodeResult(raw, &pageItems); err != nil {
				return nil, err
			}
			items = append(items, pageItems...)
		}

		raw, ok := page["nextCursor"]
		if !ok || string(raw) == "null" {
			break
		}
		if err := decodeResult(raw, &cursor); err != nil {
			return nil, err
		}
		if cursor == "" {
			break
		}
	}

	if items == nil {
		items = []map[string]any{}
	}
	return items, nil
}

// call performs one JSON-RPC exchange under the call timeout.
func (c *Client) call(ctx context.Context, url, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		reqBody["params"] = params
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("MCP-Protocol-Version", protocolVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer utils.Close(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrUpstreamProtocol, method, resp.StatusCode)
	}

	var envelope *rpcResponse
	if isEventStream(resp.Header.Get("Content-Type")) {
		envelope, err = readSSEResponse(resp.Body)
	} else {
		envelope, err = readJSONResponse(resp.Body)
	}
	if err != nil {
		return nil, err
	}

	if envelope.Error != nil {
		return nil, envelope.Error
	}
	if envelope.Result == nil {
		return nil, fmt.Errorf("%w: %s response carries neither result nor error", ErrUpstreamProtocol, method)
	}
	return envelope.Result, nil
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

func readJSONResponse(r io.Reader) (*rpcResponse, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	var envelope rpcResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON-RPC body: %v", ErrUpstreamProtocol, err)
	}
	if envelope.JSONRPC != "2.0" {
		return nil, fmt.Errorf("%w: unexpected jsonrpc version %q", ErrUpstreamProtocol, envelope.JSONRPC)
	}
	return &envelope, nil
}

func decodeResult(raw json.RawMessage, into any) error {
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamProtocol, err)
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
}

func isEventStream(contentType string) bool {
	return strings.HasPrefix(contentType, "text/event-stream")
}
