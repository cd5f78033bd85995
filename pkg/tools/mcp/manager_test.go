package mcp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/sidekick/pkg/errkind"
	"github.com/docker/sidekick/pkg/tools"
)

type fakeSession struct {
	tools   []tools.Tool
	listErr error
	calls   []string
	closed  atomic.Bool
	mu      sync.Mutex
}

func (s *fakeSession) ListTools(context.Context) ([]tools.Tool, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]tools.Tool(nil), s.tools...), nil
}

func (s *fakeSession) CallTool(_ context.Context, name string, _ map[string]any) (*tools.ToolCallResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	return tools.ResultSuccess("called " + name), nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeDialer serves sessions by URL. URLs listed in gate block until the gate is closed.
type fakeDialer struct {
	sessions map[string]*fakeSession
	failing  map[string]error
	gate     map[string]chan struct{}
	dials    atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, cfg ServerConfig, _ TransportKind) (ToolSession, error) {
	d.dials.Add(1)
	if g, ok := d.gate[cfg.URL]; ok {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := d.failing[cfg.URL]; ok {
		return nil, err
	}
	s, ok := d.sessions[cfg.URL]
	if !ok {
		return nil, errkind.New(errkind.ServerUnreachable, "dial", "no such server")
	}
	return s, nil
}

func staticProbe(context.Context, *http.Client, string) (TransportKind, error) {
	return TransportHTTP, nil
}

func newTestManager(d *fakeDialer, opts ...Opt) *Manager {
	return NewManager(append([]Opt{WithDialer(d), WithProber(staticProbe)}, opts...)...)
}

func TestManager_ConcurrentConnectSharesAttempt(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{
		sessions: map[string]*fakeSession{"http://a": {}},
		gate:     map[string]chan struct{}{"http://a": gate},
	}
	m := newTestManager(d)
	defer m.Close()

	cfg := ServerConfig{URL: "http://a", Enabled: true}
	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Go(func() {
			errs[i] = m.Connect(t.Context(), cfg)
		})
	}

	require.Eventually(t, func() bool { return d.dials.Load() == 1 }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), d.dials.Load())
	assert.Equal(t, StatusConnected, m.Statuses()[0].Status)

	require.NoError(t, m.Connect(t.Context(), cfg))
	assert.Equal(t, int32(1), d.dials.Load())
}

func TestManager_PartialConnectivity(t *testing.T) {
	d := &fakeDialer{
		sessions: map[string]*fakeSession{
			"http://up": {tools: []tools.Tool{{Name: "search"}}},
		},
	}
	m := newTestManager(d)
	defer m.Close()

	m.SyncServers(t.Context(), []ServerConfig{
		{URL: "http://up", DisplayName: "Up", Enabled: true},
		{URL: "http://down", DisplayName: "Down", Enabled: true},
	})

	got, err := m.ListTools(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tools.Tool{Name: "search", Source: "http://up", SourceName: "Up"}, got[0])

	statuses := m.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "http://down", statuses[0].URL)
	assert.Equal(t, StatusError, statuses[0].Status)
	assert.Contains(t, statuses[0].LastError, "no such server")
	assert.Equal(t, StatusConnected, statuses[1].Status)
}

func TestManager_ProbeFailureClassified(t *testing.T) {
	m := NewManager(
		WithDialer(&fakeDialer{}),
		WithProber(func(context.Context, *http.Client, string) (TransportKind, error) {
			return "", errkind.New(errkind.ProtocolMismatch, "probe", `unexpected content-type "text/html"`)
		}),
	)
	defer m.Close()

	err := m.Connect(t.Context(), ServerConfig{URL: "http://html", Enabled: true})
	require.Error(t, err)
	assert.Equal(t, errkind.ProtocolMismatch, errkind.KindOf(err))
	assert.Equal(t, StatusError, m.Statuses()[0].Status)
}

func TestManager_ListToolsSkipsFailingServer(t *testing.T) {
	d := &fakeDialer{
		sessions: map[string]*fakeSession{
			"http://a": {tools: []tools.Tool{{Name: "one"}}},
			"http://b": {listErr: errors.New("boom")},
		},
	}
	m := newTestManager(d)
	defer m.Close()

	require.NoError(t, m.Connect(t.Context(), ServerConfig{URL: "http://a", Enabled: true}))
	require.NoError(t, m.Connect(t.Context(), ServerConfig{URL: "http://b", Enabled: true}))

	got, err := m.ListTools(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "one", got[0].Name)
}

func TestManager_ListToolsWaitIsBounded(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	d := &fakeDialer{
		sessions: map[string]*fakeSession{"http://slow": {}},
		gate:     map[string]chan struct{}{"http://slow": gate},
	}
	m := newTestManager(d, WithConnectWait(50*time.Millisecond))

	m.SyncServers(t.Context(), []ServerConfig{{URL: "http://slow", Enabled: true}})

	start := time.Now()
	got, err := m.ListTools(t.Context())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusConnecting, m.Statuses()[0].Status)
}

func TestManager_SyncDisconnectsRemovedAndDisabled(t *testing.T) {
	a, b := &fakeSession{}, &fakeSession{}
	d := &fakeDialer{sessions: map[string]*fakeSession{"http://a": a, "http://b": b}}

	var mu sync.Mutex
	var transitions []Status
	m := newTestManager(d, WithStatusHandler(func(st ServerStatus) {
		if st.URL == "http://a" {
			mu.Lock()
			transitions = append(transitions, st.Status)
			mu.Unlock()
		}
	}))
	defer m.Close()

	m.SyncServers(t.Context(), []ServerConfig{
		{URL: "http://a", Enabled: true},
		{URL: "http://b", Enabled: true},
	})
	_, err := m.ListTools(t.Context())
	require.NoError(t, err)

	m.SyncServers(t.Context(), []ServerConfig{
		{URL: "http://a", Enabled: false},
		{URL: "http://b", Enabled: true},
	})

	assert.True(t, a.closed.Load())
	assert.False(t, b.closed.Load())
	require.Len(t, m.Statuses(), 1)
	assert.Equal(t, "http://b", m.Statuses()[0].URL)

	mu.Lock()
	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusDisconnected}, transitions)
	mu.Unlock()

	m.Disconnect("http://a")
	m.Disconnect("http://nope")
}

func TestManager_ErrorRetriedOnlyOnSync(t *testing.T) {
	d := &fakeDialer{failing: map[string]error{"http://x": errkind.New(errkind.ServerUnreachable, "dial", "refused")}}
	m := newTestManager(d)
	defer m.Close()

	cfgs := []ServerConfig{{URL: "http://x", Enabled: true}}
	m.SyncServers(t.Context(), cfgs)
	_, _ = m.ListTools(t.Context())
	assert.Equal(t, int32(1), d.dials.Load())

	_, _ = m.ListTools(t.Context())
	assert.Equal(t, int32(1), d.dials.Load())

	d.failing = nil
	d.sessions = map[string]*fakeSession{"http://x": {}}
	m.SyncServers(t.Context(), cfgs)
	_, _ = m.ListTools(t.Context())
	assert.Equal(t, int32(2), d.dials.Load())
	assert.Equal(t, StatusConnected, m.Statuses()[0].Status)
}

func TestManager_DisconnectWhileConnecting(t *testing.T) {
	gate := make(chan struct{})
	late := &fakeSession{}
	d := &fakeDialer{
		sessions: map[string]*fakeSession{"http://a": late},
		gate:     map[string]chan struct{}{"http://a": gate},
	}
	m := newTestManager(d)
	defer m.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(t.Context(), ServerConfig{URL: "http://a", Enabled: true}) }()

	require.Eventually(t, func() bool { return d.dials.Load() == 1 }, time.Second, time.Millisecond)
	m.Disconnect("http://a")
	close(gate)

	err := <-errCh
	assert.Equal(t, errkind.ServerNotConnected, errkind.KindOf(err))
	assert.Eventually(t, late.closed.Load, time.Second, time.Millisecond)
	assert.Empty(t, m.Statuses())
}

func TestManager_CallToolRouting(t *testing.T) {
	files := &fakeSession{tools: []tools.Tool{{Name: "search"}}}
	web := &fakeSession{tools: []tools.Tool{{Name: "search"}}}
	d := &fakeDialer{sessions: map[string]*fakeSession{"http://files": files, "http://web": web}}
	m := newTestManager(d)
	defer m.Close()

	_, err := m.CallTool(t.Context(), "Files_search", nil, "")
	assert.Equal(t, errkind.ToolNotFound, errkind.KindOf(err))

	m.SyncServers(t.Context(), []ServerConfig{
		{URL: "http://files", DisplayName: "Files", Enabled: true},
		{URL: "http://web", DisplayName: "Web", Enabled: true},
	})
	c, err := m.Catalog(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	res, err := m.CallTool(t.Context(), "Web_search", map[string]any{"q": "go"}, "")
	require.NoError(t, err)
	assert.Equal(t, "called search", res.Output)
	assert.Empty(t, files.calls)
	assert.Equal(t, []string{"search"}, web.calls)

	_, err = m.CallTool(t.Context(), "search", nil, "http://files")
	require.NoError(t, err)
	assert.Equal(t, []string{"search"}, files.calls)

	_, err = m.CallTool(t.Context(), "nope", nil, "")
	assert.Equal(t, errkind.ToolNotFound, errkind.KindOf(err))

	m.Disconnect("http://web")
	_, err = m.CallTool(t.Context(), "Web_search", nil, "")
	assert.Equal(t, errkind.ServerNotConnected, errkind.KindOf(err))
}

func TestManager_GetToolsForServer(t *testing.T) {
	d := &fakeDialer{sessions: map[string]*fakeSession{"http://a": {tools: []tools.Tool{{Name: "x"}}}}}
	m := newTestManager(d)
	defer m.Close()

	got, err := m.GetToolsForServer(t.Context(), "http://a")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, m.Connect(t.Context(), ServerConfig{URL: "http://a", DisplayName: "A", Enabled: true}))
	got, err = m.GetToolsForServer(t.Context(), "http://a")
	require.NoError(t, err)
	assert.Equal(t, []tools.Tool{{Name: "x", Source: "http://a", SourceName: "A"}}, got)
}

func TestManager_EndToEndOverHTTP(t *testing.T) {
	srv := newRPCServer(t, calcServer())

	m := NewManager()
	defer m.Close()

	m.SyncServers(t.Context(), []ServerConfig{
		{URL: srv.URL, DisplayName: "Calc", Enabled: true},
		{URL: "http://127.0.0.1:1/mcp", Enabled: true},
	})

	c, err := m.Catalog(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, "Calc_calc_add", c.Tools()[0].Name)

	res, err := m.CallTool(t.Context(), "Calc_calc_add", map[string]any{"a": 2, "b": 2}, "")
	require.NoError(t, err)
	assert.Equal(t, "4", res.Output)
	assert.False(t, res.IsError)

	statuses := m.Statuses()
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		if st.URL == srv.URL {
			assert.Equal(t, TransportHTTP, st.Transport)
			assert.Equal(t, StatusConnected, st.Status)
		} else {
			assert.Equal(t, StatusError, st.Status)
		}
	}
}

func TestManager_NormalizesMalformedTools(t *testing.T) {
	srv := newRPCServer(t, &rpcServer{toolsResult: `{"tools":[{"name":"bare"},"junk"]}`})

	m := NewManager()
	defer m.Close()

	require.NoError(t, m.Connect(t.Context(), ServerConfig{URL: srv.URL, Enabled: true, Transport: TransportHTTP}))
	got, err := m.ListTools(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bare", got[0].Name)
}
