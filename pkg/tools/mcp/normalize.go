package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// normalizingTransport coerces malformed result payloads into the shape the
// client library expects, instead of letting a decode failure break the session.
type normalizingTransport struct {
	inner mcp.Transport
	url   string
}

func (t *normalizingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.inner.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &normalizingConn{Connection: conn, url: t.url}, nil
}

type normalizingConn struct {
	mcp.Connection
	url string
}

func (c *normalizingConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.Connection.Read(ctx)
	if err != nil {
		return nil, err
	}
	if resp, ok := msg.(*jsonrpc.Response); ok && len(resp.Result) > 0 {
		if fixed, changed := normalizeResult(resp.Result); changed {
			slog.Debug("Normalized malformed tool server result", "url", c.url)
			resp.Result = fixed
		}
	}
	return msg, nil
}

const emptyObjectSchema = `{"type":"object","properties":{}}`

// normalizeResult fixes the fields of tools/list and tools/call results.
func normalizeResult(raw json.RawMessage) (json.RawMessage, bool) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return raw, false
	}

	out := []byte(raw)
	changed := false

	if v := gjson.GetBytes(out, "tools"); v.Exists() {
		fixed, ok := normalizeTools(v)
		if ok {
			out, _ = sjson.SetRawBytes(out, "tools", fixed)
			changed = true
		}
	}

	if v := gjson.GetBytes(out, "content"); v.Exists() {
		fixed, ok := normalizeContent(v)
		if ok {
			out, _ = sjson.SetRawBytes(out, "content", fixed)
			changed = true
		}
	}

	if v := gjson.GetBytes(out, "isError"); v.Exists() && v.Type != gjson.True && v.Type != gjson.False {
		out, _ = sjson.SetBytes(out, "isError", v.Bool())
		changed = true
	}

	return out, changed
}

func normalizeTools(v gjson.Result) ([]byte, bool) {
	if !v.IsArray() {
		return []byte("[]"), true
	}

	changed := false
	var items []string
	for _, tool := range v.Array() {
		if !tool.IsObject() || tool.Get("name").Type != gjson.String || tool.Get("name").Str == "" {
			changed = true
			continue
		}

		item := tool.Raw
		if schema := tool.Get("inputSchema"); !schema.IsObject() {
			item, _ = sjson.SetRaw(item, "inputSchema", emptyObjectSchema)
			changed = true
		} else if schema.Get("type").Str != "object" {
			item, _ = sjson.Set(item, "inputSchema.type", "object")
			changed = true
		}
		if d := tool.Get("description"); d.Exists() && d.Type != gjson.String {
			item, _ = sjson.Delete(item, "description")
			changed = true
		}
		items = append(items, item)
	}
	if !changed {
		return nil, false
	}
	return []byte("[" + strings.Join(items, ",") + "]"), true
}

func normalizeContent(v gjson.Result) ([]byte, bool) {
	if !v.IsArray() {
		if v.Type == gjson.String {
			text, _ := sjson.Set(`{"type":"text"}`, "text", v.Str)
			return []byte("[" + text + "]"), true
		}
		return []byte("[]"), true
	}

	changed := false
	var items []string
	for _, part := range v.Array() {
		if !part.IsObject() || part.Get("type").Type != gjson.String {
			changed = true
			continue
		}
		items = append(items, part.Raw)
	}
	if !changed {
		return nil, false
	}
	return []byte("[" + strings.Join(items, ",") + "]"), true
}
