package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docker/sidekick/pkg/errkind"
)

const (
	sessionIDHeader = "Mcp-Session-Id"
	maxPreview      = 200
	maxBodySize     = 16 << 20
)

// HTTPTransport is a stateless request/response transport. Every outgoing
// message is one POST; whatever the server answers in the response body is
// queued for the client to read.
type HTTPTransport struct {
	Endpoint   string
	HTTPClient *http.Client
	// OnError is called with any error from Write before Write returns it.
	OnError func(error)
	// OnClose is called once when the connection is closed.
	OnClose func()
}

var _ mcp.Transport = (*HTTPTransport)(nil)

// Connect does not touch the network: there is nothing to establish up front.
func (t *HTTPTransport) Connect(context.Context) (mcp.Connection, error) {
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &httpConn{
		endpoint: t.Endpoint,
		client:   client,
		onError:  t.OnError,
		onClose:  t.OnClose,
		incoming: make(chan jsonrpc.Message, 64),
		closed:   make(chan struct{}),
	}, nil
}

type httpConn struct {
	endpoint string
	client   *http.Client
	onError  func(error)
	onClose  func()

	incoming  chan jsonrpc.Message
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	sessionID string
}

func (c *httpConn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *httpConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	// Queued messages are delivered even after Close.
	select {
	case msg := <-c.incoming:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *httpConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.send(ctx, msg); err != nil {
		if c.onError != nil {
			c.onError(err)
		}
		return err
	}
	return nil
}

func (c *httpConn) send(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-c.closed:
		return errkind.New(errkind.ServerNotConnected, "send", "connection closed")
	default:
	}

	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if id := c.SessionID(); id != "" {
		req.Header.Set(sessionIDHeader, id)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.ServerUnreachable, "send", err)
	}
	defer resp.Body.Close()

	if id := resp.Header.Get(sessionIDHeader); id != "" {
		c.mu.Lock()
		c.sessionID = id
		c.mu.Unlock()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return errkind.Wrap(errkind.ServerUnreachable, "send", fmt.Errorf("reading response: %w", err))
	}
	contentType := resp.Header.Get("Content-Type")

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return &errkind.Error{
			Kind: errkind.ServerUnreachable,
			Op:   "send",
			Msg:  fmt.Sprintf("server returned %s: %s", resp.Status, preview(body)),
		}
	case resp.StatusCode >= http.StatusBadRequest:
		return &errkind.Error{
			Kind: errkind.ProtocolMismatch,
			Op:   "send",
			Msg:  fmt.Sprintf("server returned %s (content-type %q): %s", resp.Status, contentType, preview(body)),
		}
	}

	msgs, err := decodeBody(body, contentType)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		select {
		case c.incoming <- m:
		case <-c.closed:
			return errkind.New(errkind.ServerNotConnected, "send", "connection closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *httpConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// decodeBody sniffs a response body: empty, then JSON, then inline "data: " framing.
func decodeBody(body []byte, contentType string) ([]jsonrpc.Message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" || trimmed[0] == '{' || trimmed[0] == '[' {
		msgs, err := decodeJSON(trimmed)
		if err == nil {
			return msgs, nil
		}
		if mediaType == "application/json" {
			return nil, mismatch(contentType, body, err)
		}
	}

	if hasDataFraming(body) {
		return decodeDataLines(body, contentType)
	}

	return nil, mismatch(contentType, body, nil)
}

func decodeJSON(data []byte) ([]jsonrpc.Message, error) {
	if data[0] != '[' {
		msg, err := jsonrpc.DecodeMessage(data)
		if err != nil {
			return nil, err
		}
		return []jsonrpc.Message{msg}, nil
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	msgs := make([]jsonrpc.Message, 0, len(batch))
	for _, raw := range batch {
		msg, err := jsonrpc.DecodeMessage(raw)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func hasDataFraming(body []byte) bool {
	return bytes.HasPrefix(body, []byte("data:")) || bytes.Contains(body, []byte("\ndata:"))
}

func decodeDataLines(body []byte, contentType string) ([]jsonrpc.Message, error) {
	var msgs []jsonrpc.Message

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxBodySize)
	for scanner.Scan() {
		payload, ok := strings.CutPrefix(strings.TrimRight(scanner.Text(), "\r"), "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "" {
			continue
		}
		msg, err := jsonrpc.DecodeMessage([]byte(payload))
		if err != nil {
			return nil, mismatch(contentType, body, err)
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, mismatch(contentType, body, err)
	}
	return msgs, nil
}

func mismatch(contentType string, body []byte, cause error) error {
	slog.Debug("Unexpected tool server response", "content_type", contentType, "preview", preview(body))
	return &errkind.Error{
		Kind: errkind.ProtocolMismatch,
		Op:   "decode",
		Msg:  fmt.Sprintf("unexpected response (content-type %q): %s", contentType, preview(body)),
		Err:  cause,
	}
}

func preview(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= maxPreview {
		return s
	}
	return s[:maxPreview] + "..."
}
