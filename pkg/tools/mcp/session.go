package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docker/sidekick/pkg/errkind"
	"github.com/docker/sidekick/pkg/httpclient"
	"github.com/docker/sidekick/pkg/tools"
	"github.com/docker/sidekick/pkg/version"
)

// ToolSession is the part of an MCP client session the manager relies on.
type ToolSession interface {
	ListTools(ctx context.Context) ([]tools.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*tools.ToolCallResult, error)
	Close() error
}

// Dialer opens a handshaken session to one server over the given transport.
type Dialer interface {
	Dial(ctx context.Context, cfg ServerConfig, kind TransportKind) (ToolSession, error)
}

type sdkDialer struct{}

func (sdkDialer) Dial(ctx context.Context, cfg ServerConfig, kind TransportKind) (ToolSession, error) {
	httpClient := httpclient.NewHTTPClient(httpclient.WithHeaders(cfg.Headers))

	var transport mcp.Transport
	switch kind {
	case TransportSSE:
		transport = &mcp.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: httpClient,
		}
	case TransportHTTP:
		transport = &HTTPTransport{
			Endpoint:   cfg.URL,
			HTTPClient: httpClient,
			OnError: func(err error) {
				slog.Debug("Tool server request failed", "url", cfg.URL, "error", err)
			},
		}
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", kind)
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "sidekick",
		Version: version.Version,
	}, nil)

	session, err := client.Connect(ctx, &normalizingTransport{inner: transport, url: cfg.URL}, nil)
	if err != nil {
		if errkind.KindOf(err) != errkind.Unknown {
			return nil, err
		}
		return nil, errkind.Wrap(errkind.ServerUnreachable, "handshake", err)
	}

	return &sdkSession{session: session, url: cfg.URL}, nil
}

type sdkSession struct {
	session *mcp.ClientSession
	url     string
}

func (s *sdkSession) ListTools(ctx context.Context) ([]tools.Tool, error) {
	var out []tools.Tool
	for t, err := range s.session.Tools(ctx, &mcp.ListToolsParams{}) {
		if err != nil {
			return nil, err
		}
		out = append(out, tools.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
			Source:      s.url,
		})
	}
	return out, nil
}

func (s *sdkSession) CallTool(ctx context.Context, name string, args map[string]any) (*tools.ToolCallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return processContent(res), nil
}

func (s *sdkSession) Close() error {
	return s.session.Close()
}

// processContent joins the text parts of a result. Other content types are dropped.
func processContent(res *mcp.CallToolResult) *tools.ToolCallResult {
	output := ""
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			output += text.Text
		}
	}
	if output == "" && res.StructuredContent != nil {
		if buf, err := json.Marshal(res.StructuredContent); err == nil {
			output = string(buf)
		}
	}
	if output == "" {
		output = "no output"
	}

	if res.IsError {
		return tools.ResultError(output)
	}
	return tools.ResultSuccess(output)
}

func defaultProbeClient(cfg ServerConfig) *http.Client {
	return httpclient.NewHTTPClient(httpclient.WithHeaders(cfg.Headers))
}
