// Package mcp keeps connections to remote tool servers and routes tool calls to them.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/docker/sidekick/pkg/errkind"
	"github.com/docker/sidekick/pkg/tools"
	"github.com/docker/sidekick/pkg/tools/catalog"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

const (
	DefaultConnectWait    = 2 * time.Second
	DefaultConnectTimeout = 30 * time.Second
)

// ServerConfig is one configured tool server.
type ServerConfig struct {
	URL         string
	DisplayName string
	Enabled     bool
	Transport   TransportKind
	Headers     map[string]string
}

func (c ServerConfig) sameConnection(o ServerConfig) bool {
	return c.URL == o.URL && c.Transport == o.Transport && maps.Equal(c.Headers, o.Headers)
}

// ServerStatus is a snapshot of one connection.
type ServerStatus struct {
	URL         string
	DisplayName string
	Status      Status
	LastError   string
	Transport   TransportKind
}

// connectAttempt is shared by every caller connecting the same URL concurrently.
type connectAttempt struct {
	done chan struct{}
	err  error
}

type server struct {
	cfg     ServerConfig
	status  Status
	lastErr string
	kind    TransportKind
	session ToolSession
	// attempt is the in-flight connect, if any. A finishing attempt that no
	// longer matches it was superseded by a disconnect.
	attempt *connectAttempt
}

func (s *server) snapshot() ServerStatus {
	return ServerStatus{
		URL:         s.cfg.URL,
		DisplayName: s.cfg.DisplayName,
		Status:      s.status,
		LastError:   s.lastErr,
		Transport:   s.kind,
	}
}

// Manager owns one connection per enabled tool server. A failing server only
// affects its own status.
type Manager struct {
	dialer         Dialer
	prober         Prober
	probeClient    func(ServerConfig) *http.Client
	onStatus       func(ServerStatus)
	tracer         trace.Tracer
	connectWait    time.Duration
	connectTimeout time.Duration

	mu      sync.Mutex
	servers map[string]*server
	catalog *catalog.Catalog

	wg sync.WaitGroup
}

type Opt func(*Manager)

func WithDialer(d Dialer) Opt {
	return func(m *Manager) {
		m.dialer = d
	}
}

func WithProber(p Prober) Opt {
	return func(m *Manager) {
		m.prober = p
	}
}

// WithStatusHandler registers a callback for every status transition.
// It is called without the manager lock held.
func WithStatusHandler(fn func(ServerStatus)) Opt {
	return func(m *Manager) {
		m.onStatus = fn
	}
}

func WithTracer(t trace.Tracer) Opt {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithConnectWait bounds how long ListTools waits for pending connections.
func WithConnectWait(d time.Duration) Opt {
	return func(m *Manager) {
		m.connectWait = d
	}
}

func WithConnectTimeout(d time.Duration) Opt {
	return func(m *Manager) {
		m.connectTimeout = d
	}
}

func NewManager(opts ...Opt) *Manager {
	m := &Manager{
		dialer:         sdkDialer{},
		prober:         Probe,
		probeClient:    defaultProbeClient,
		connectWait:    DefaultConnectWait,
		connectTimeout: DefaultConnectTimeout,
		servers:        map[string]*server{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect connects one server and waits for the outcome. Concurrent calls for
// the same URL share a single attempt.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) error {
	attempt, started := m.begin(cfg)
	if attempt == nil {
		return nil
	}
	if started {
		// The attempt is shared, so one caller giving up must not cancel it for the others.
		go m.run(context.WithoutCancel(ctx), cfg, attempt)
	}

	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin registers a connect attempt. It returns a nil attempt when the server
// is already connected, and started=false when joining an attempt in flight.
func (m *Manager) begin(cfg ServerConfig) (*connectAttempt, bool) {
	m.mu.Lock()

	s, ok := m.servers[cfg.URL]
	if !ok {
		s = &server{cfg: cfg, status: StatusDisconnected}
		m.servers[cfg.URL] = s
	}
	s.cfg.DisplayName = cfg.DisplayName

	switch {
	case s.status == StatusConnected:
		m.mu.Unlock()
		return nil, false
	case s.attempt != nil:
		a := s.attempt
		m.mu.Unlock()
		return a, false
	}

	s.cfg = cfg
	s.attempt = &connectAttempt{done: make(chan struct{})}
	s.status = StatusConnecting
	s.lastErr = ""
	a, st := s.attempt, s.snapshot()
	m.wg.Add(1)
	m.mu.Unlock()

	m.notify(st)
	return a, true
}

func (m *Manager) run(ctx context.Context, cfg ServerConfig, a *connectAttempt) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	ctx, span := m.startSpan(ctx, "mcp.connect", trace.WithAttributes(
		attribute.String("server.url", cfg.URL),
	))
	defer span.End()

	slog.Debug("Connecting to tool server", "url", cfg.URL, "transport", cfg.Transport)

	kind := cfg.Transport
	var err error
	if kind == TransportAuto {
		kind, err = m.prober(ctx, m.probeClient(cfg), cfg.URL)
	}
	var sess ToolSession
	if err == nil {
		sess, err = m.dialer.Dial(ctx, cfg, kind)
	}

	m.mu.Lock()
	s, ok := m.servers[cfg.URL]
	if !ok || s.attempt != a {
		m.mu.Unlock()
		if sess != nil {
			if cerr := sess.Close(); cerr != nil {
				slog.Debug("Failed to close superseded session", "url", cfg.URL, "error", cerr)
			}
		}
		a.err = errkind.New(errkind.ServerNotConnected, "connect", "server was disconnected while connecting")
		close(a.done)
		return
	}

	s.attempt = nil
	s.kind = kind
	if err != nil {
		s.status = StatusError
		s.lastErr = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		slog.Warn("Failed to connect to tool server", "url", cfg.URL, "error", err)
	} else {
		s.status = StatusConnected
		s.session = sess
		span.SetStatus(codes.Ok, "connected")
		slog.Debug("Connected to tool server", "url", cfg.URL, "transport", kind)
	}
	st := s.snapshot()
	m.mu.Unlock()

	a.err = err
	close(a.done)
	m.notify(st)
}

// Disconnect closes the connection to url and forgets it. Cleanup errors are logged.
func (m *Manager) Disconnect(url string) {
	m.mu.Lock()
	s, ok := m.servers[url]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.servers, url)
	s.attempt = nil
	sess := s.session
	s.session = nil
	s.status = StatusDisconnected
	s.lastErr = ""
	st := s.snapshot()
	m.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			slog.Warn("Failed to close tool server session", "url", url, "error", err)
		}
	}
	slog.Debug("Disconnected from tool server", "url", url)
	m.notify(st)
}

// SyncServers makes the tracked set match the enabled entries of cfgs. It
// starts connections in the background and returns without waiting for them.
// Servers in the error state are retried.
func (m *Manager) SyncServers(ctx context.Context, cfgs []ServerConfig) {
	desired := map[string]ServerConfig{}
	for _, cfg := range cfgs {
		if cfg.Enabled && cfg.URL != "" {
			desired[cfg.URL] = cfg
		}
	}

	m.mu.Lock()
	var stale []string
	for url, s := range m.servers {
		cfg, ok := desired[url]
		if !ok || !s.cfg.sameConnection(cfg) {
			stale = append(stale, url)
		}
	}
	m.mu.Unlock()

	for _, url := range stale {
		m.Disconnect(url)
	}

	for _, url := range slices.Sorted(maps.Keys(desired)) {
		cfg := desired[url]
		if attempt, started := m.begin(cfg); started {
			go m.run(context.WithoutCancel(ctx), cfg, attempt)
		}
	}
}

// ListTools returns the tools of every connected server, tagged with their
// origin and ordered by server URL. Servers that fail to answer are skipped.
func (m *Manager) ListTools(ctx context.Context) ([]tools.Tool, error) {
	m.waitPending(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type target struct {
		cfg     ServerConfig
		session ToolSession
	}
	var targets []target
	m.mu.Lock()
	for _, url := range slices.Sorted(maps.Keys(m.servers)) {
		s := m.servers[url]
		if s.status == StatusConnected {
			targets = append(targets, target{cfg: s.cfg, session: s.session})
		}
	}
	m.mu.Unlock()

	results := make([][]tools.Tool, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			ts, err := t.session.ListTools(ctx)
			if err != nil {
				slog.Warn("Skipping tool server that failed to list tools", "url", t.cfg.URL, "error", err)
				return nil
			}
			for j := range ts {
				ts[j].Source = t.cfg.URL
				ts[j].SourceName = t.cfg.DisplayName
			}
			results[i] = ts
			return nil
		})
	}
	_ = g.Wait()

	var all []tools.Tool
	for _, ts := range results {
		all = append(all, ts...)
	}
	return all, nil
}

// waitPending blocks until in-flight connects finish or connectWait elapses.
func (m *Manager) waitPending(ctx context.Context) {
	m.mu.Lock()
	var pending []*connectAttempt
	for _, s := range m.servers {
		if s.attempt != nil {
			pending = append(pending, s.attempt)
		}
	}
	m.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	timer := time.NewTimer(m.connectWait)
	defer timer.Stop()
	for _, a := range pending {
		select {
		case <-a.done:
		case <-timer.C:
			slog.Debug("Gave up waiting for pending tool server connections")
			return
		case <-ctx.Done():
			return
		}
	}
}

// GetToolsForServer lists the tools of one server. It returns nothing if the
// server is not connected.
func (m *Manager) GetToolsForServer(ctx context.Context, url string) ([]tools.Tool, error) {
	m.mu.Lock()
	s, ok := m.servers[url]
	if !ok || s.status != StatusConnected {
		m.mu.Unlock()
		return nil, nil
	}
	cfg, sess := s.cfg, s.session
	m.mu.Unlock()

	ts, err := sess.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tools of %s: %w", url, err)
	}
	for i := range ts {
		ts[i].Source = cfg.URL
		ts[i].SourceName = cfg.DisplayName
	}
	return ts, nil
}

// Catalog lists all tools and builds a new catalog from them. The catalog also
// becomes the routing table for CallTool calls without a target URL.
func (m *Manager) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	ts, err := m.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	c := catalog.Build(ts)

	m.mu.Lock()
	m.catalog = c
	m.mu.Unlock()

	return c, nil
}

// CallTool invokes a tool. With a targetURL, name is the server-local name.
// Without one, name is resolved through the last built catalog.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any, targetURL string) (*tools.ToolCallResult, error) {
	url, original := targetURL, name

	m.mu.Lock()
	if url == "" {
		var route catalog.Route
		ok := false
		if m.catalog != nil {
			route, ok = m.catalog.Resolve(name)
		}
		if !ok {
			m.mu.Unlock()
			return nil, errkind.New(errkind.ToolNotFound, "call_tool", fmt.Sprintf("no tool named %q", name))
		}
		url, original = route.SourceURL, route.OriginalName
	}
	s, ok := m.servers[url]
	if !ok || s.status != StatusConnected {
		m.mu.Unlock()
		return nil, errkind.New(errkind.ServerNotConnected, "call_tool", fmt.Sprintf("server %s is not connected", url))
	}
	sess := s.session
	m.mu.Unlock()

	ctx, span := m.startSpan(ctx, "mcp.call_tool", trace.WithAttributes(
		attribute.String("tool.name", original),
		attribute.String("server.url", url),
	))
	defer span.End()

	slog.Debug("Calling tool", "tool", original, "url", url)
	res, err := sess.CallTool(ctx, original, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool call failed")
		return nil, fmt.Errorf("calling %s on %s: %w", original, url, err)
	}
	span.SetStatus(codes.Ok, "tool call completed")
	return res, nil
}

// Statuses returns a snapshot of all tracked servers ordered by URL.
func (m *Manager) Statuses() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ServerStatus, 0, len(m.servers))
	for _, url := range slices.Sorted(maps.Keys(m.servers)) {
		out = append(out, m.servers[url].snapshot())
	}
	return out
}

// Close disconnects every server and waits for background connects to settle.
func (m *Manager) Close() {
	m.mu.Lock()
	urls := slices.Collect(maps.Keys(m.servers))
	m.mu.Unlock()

	for _, url := range urls {
		m.Disconnect(url)
	}
	m.wg.Wait()
}

func (m *Manager) notify(st ServerStatus) {
	if m.onStatus != nil {
		m.onStatus(st)
	}
}

func (m *Manager) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if m.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, name, opts...)
}
