package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// rpcServer is a minimal stateless tool server answering one JSON-RPC message per POST.
type rpcServer struct {
	// toolsResult is the raw "result" of tools/list.
	toolsResult string
	// call answers tools/call with a raw "result".
	call func(name string, args map[string]any) string
	// sse frames responses as "data: " lines instead of plain JSON.
	sse bool

	mu      sync.Mutex
	methods []string
	posts   atomic.Int32
}

func newRPCServer(t *testing.T, s *rpcServer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func (s *rpcServer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

func (s *rpcServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.posts.Add(1)

	body, _ := io.ReadAll(r.Body)
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params struct {
			ProtocolVersion string         `json:"protocolVersion"`
			Name            string         `json:"name"`
			Arguments       map[string]any `json:"arguments"`
		} `json:"params"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.methods = append(s.methods, req.Method)
	s.mu.Unlock()

	if len(req.ID) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var result string
	switch req.Method {
	case "initialize":
		result = fmt.Sprintf(`{"protocolVersion":%q,"capabilities":{"tools":{}},"serverInfo":{"name":"fake","version":"1.0.0"}}`, req.Params.ProtocolVersion)
	case "tools/list":
		result = s.toolsResult
		if result == "" {
			result = `{"tools":[]}`
		}
	case "tools/call":
		result = s.call(req.Params.Name, req.Params.Arguments)
	default:
		result = `{}`
	}

	msg := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, result)
	if s.sse {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, msg)
}

func calcServer() *rpcServer {
	return &rpcServer{
		toolsResult: `{"tools":[{"name":"calc_add","description":"Add two numbers","inputSchema":{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}}}}]}`,
		call: func(name string, args map[string]any) string {
			if name != "calc_add" {
				return `{"content":[{"type":"text","text":"unknown tool"}],"isError":true}`
			}
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return fmt.Sprintf(`{"content":[{"type":"text","text":"%g"}]}`, a+b)
		},
	}
}
