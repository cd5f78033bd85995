package httpclient

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/docker/sidekick/pkg/version"
)

// headerTransport sets a fixed User-Agent plus any configured headers on every request.
type headerTransport struct {
	agent   string
	headers map[string]string
	rt      http.RoundTripper
}

func (h *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	r2.Header.Set("User-Agent", h.agent)
	for k, v := range h.headers {
		r2.Header.Set(k, v)
	}
	return h.rt.RoundTrip(r2)
}

type Opt func(*options)

type options struct {
	headers   map[string]string
	timeout   time.Duration
	transport http.RoundTripper
}

// WithHeaders adds headers sent with every request, e.g. Authorization for a tool server.
func WithHeaders(headers map[string]string) Opt {
	return func(o *options) {
		for k, v := range headers {
			o.headers[k] = v
		}
	}
}

// WithTimeout sets the overall client timeout. Streaming clients must leave it at zero.
func WithTimeout(d time.Duration) Opt {
	return func(o *options) {
		o.timeout = d
	}
}

// WithTransport overrides the underlying round tripper.
func WithTransport(rt http.RoundTripper) Opt {
	return func(o *options) {
		o.transport = rt
	}
}

func UserAgent() string {
	return fmt.Sprintf("Sidekick/%s (%s; %s)", version.Version, runtime.GOOS, runtime.GOARCH)
}

func NewHTTPClient(opts ...Opt) *http.Client {
	o := options{
		headers:   map[string]string{},
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &http.Client{
		Timeout: o.timeout,
		Transport: &headerTransport{
			agent:   UserAgent(),
			headers: o.headers,
			rt:      o.transport,
		},
	}
}
