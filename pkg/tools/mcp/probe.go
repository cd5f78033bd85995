package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/docker/sidekick/pkg/errkind"
)

type TransportKind string

const (
	// TransportAuto probes the server to pick a transport.
	TransportAuto TransportKind = ""
	// TransportSSE is a server-push event stream.
	TransportSSE TransportKind = "sse"
	// TransportHTTP is stateless request/response over POST.
	TransportHTTP TransportKind = "http"
)

func ParseTransportKind(s string) (TransportKind, error) {
	switch s {
	case "", "auto":
		return TransportAuto, nil
	case "sse":
		return TransportSSE, nil
	case "http", "streamable", "streamable-http":
		return TransportHTTP, nil
	default:
		return "", fmt.Errorf("unsupported transport type: %s", s)
	}
}

const DefaultProbeTimeout = 5 * time.Second

// Prober decides which transport a server speaks.
type Prober func(ctx context.Context, client *http.Client, url string) (TransportKind, error)

// Probe issues a short GET asking for an event stream. A 2xx event-stream
// answer means SSE. A JSON answer, or a status that says the endpoint only
// accepts POST, means request/response.
func Probe(ctx context.Context, client *http.Client, url string) (TransportKind, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", errkind.Wrap(errkind.ServerUnreachable, "probe", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return "", errkind.Wrap(errkind.ServerUnreachable, "probe", err)
	}
	// The body of an SSE endpoint never ends; only headers matter here.
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	slog.Debug("Probed tool server", "url", url, "status", resp.StatusCode, "content_type", contentType)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		switch mediaType {
		case "text/event-stream":
			return TransportSSE, nil
		case "application/json":
			return TransportHTTP, nil
		}
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusMethodNotAllowed,
		resp.StatusCode == http.StatusNotAcceptable:
		return TransportHTTP, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", &errkind.Error{
			Kind: errkind.ProtocolMismatch,
			Op:   "probe",
			Msg:  fmt.Sprintf("server rejected credentials (%s); check the configured headers", resp.Status),
		}
	case resp.StatusCode >= 500:
		return "", &errkind.Error{
			Kind: errkind.ServerUnreachable,
			Op:   "probe",
			Msg:  fmt.Sprintf("server returned %s", resp.Status),
		}
	}

	return "", &errkind.Error{
		Kind: errkind.ProtocolMismatch,
		Op:   "probe",
		Msg:  fmt.Sprintf("unexpected response %s with content-type %q", resp.Status, contentType),
	}
}
