package mcpclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// readSSEResponse scans an SSE stream for the JSON-RPC response to a POSTed
// request. Streamable HTTP allows a server to answer a POST with an event
// stream; the response envelope arrives as the data of one of its events,
// possibly after unrelated notifications.
func readSSEResponse(r io.Reader) (*rpcResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var dataLines []string
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		if line == "" {
			if envelope := parseEventData(dataLines); envelope != nil {
				return envelope, nil
			}
			dataLines = dataLines[:0]
			continue
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			dataLines = append(dataLines, strings.TrimPrefix(data, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyTransportError(err)
	}
	// Stream may end without a trailing blank line.
	if envelope := parseEventData(dataLines); envelope != nil {
		return envelope, nil
	}
	return nil, fmt.Errorf("%w: no JSON-RPC response in event stream", ErrUpstreamProtocol)
}

// parseEventData joins accumulated data lines and returns the envelope if
// they form a JSON-RPC response (a notification has neither result nor error).
func parseEventData(dataLines []string) *rpcResponse {
	if len(dataLines) == 0 {
		return nil
	}
	payload := strings.Join(dataLines, "\n")

	var envelope rpcResponse
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil
	}
	if envelope.JSONRPC != "2.0" {
		return nil
	}
	if envelope.Result == nil && envelope.Error == nil {
		return nil
	}
	return &envelope
}
