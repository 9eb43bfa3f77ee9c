package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
	"github.com/nerrad567/yunmao-bridge/internal/device"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/config"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/logging"
)

const testGateway = "192.168.88.118"

// fakeGateway implements Gateway and device.Controller over a real cache.
type fakeGateway struct {
	cache *yunmao.StateCache

	mu      sync.Mutex
	running bool
	fail    bool
	calls   []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{cache: yunmao.NewStateCache(), running: true}
}

func (g *fakeGateway) setRunning(v bool) {
	g.mu.Lock()
	g.running = v
	g.mu.Unlock()
}

func (g *fakeGateway) setFail(v bool) {
	g.mu.Lock()
	g.fail = v
	g.mu.Unlock()
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) record(call string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
	if g.fail {
		return fmt.Errorf("%w: dial tcp %s:8888: connection refused", yunmao.ErrCommand, testGateway)
	}
	return nil
}

func (g *fakeGateway) SetSwitch(_ context.Context, key yunmao.DeviceKey, on bool) error {
	return g.record(fmt.Sprintf("%s %s=%s", key.MAC, yunmao.SwitchAttr(key.Position), yunmao.SwitchValue(on)))
}

func (g *fakeGateway) SetWindow(_ context.Context, mac, action string) error {
	return g.record(fmt.Sprintf("%s WIN=%s", mac, action))
}

func (g *fakeGateway) SetLevel(_ context.Context, mac string, level int) error {
	return g.record(fmt.Sprintf("%s LEV=%d", mac, level))
}

func (g *fakeGateway) SubscribeSwitch(key yunmao.DeviceKey, fn func(bool)) *yunmao.Subscription {
	return g.cache.SubscribeSwitch(key, fn)
}

func (g *fakeGateway) SubscribeWindow(mac string, fn func(yunmao.WindowState)) *yunmao.Subscription {
	return g.cache.SubscribeWindow(mac, fn)
}

func (g *fakeGateway) Resync(subs ...*yunmao.Subscription) int {
	return g.cache.Resync(subs...)
}

func (g *fakeGateway) Snapshot() yunmao.AttributeSnapshot {
	return g.cache.Snapshot(testGateway)
}

func (g *fakeGateway) Stats() yunmao.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return yunmao.Stats{
		Gateway: testGateway,
		Running: g.running,
		Cache:   g.cache.Stats(),
	}
}

func (g *fakeGateway) HealthCheck(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return yunmao.ErrNotRunning
	}
	return nil
}

func (g *fakeGateway) push(mac string, attrs map[string]string) {
	g.cache.MergeAttributes(testGateway, mac, attrs)
}

// stubHealth is an optional dependency with a fixed health result.
type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(context.Context) error { return s.err }

var errBrokerDown = errors.New("broker unreachable")

var (
	kitchenLight = device.Record{Name: "kitchen", Kind: device.KindLight, MAC: "FFFF301B977B72F1", Position: 2}
	loungeBlind  = device.Record{Name: "lounge-curtain", Kind: device.KindCurtain, MAC: "FFFF88571DE7E9D9"}
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func testDeps(gw *fakeGateway) Deps {
	registry := device.NewRegistry(gw)
	return Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:   testLogger(),
		Registry: registry,
		Gateway:  gw,
		Version:  "test",
	}
}

// testServer creates a Server over a fake gateway with the kitchen light
// and lounge curtain registered. The hub is running; the HTTP listener is not.
func testServer(t *testing.T) (*Server, *fakeGateway) {
	t.Helper()
	gw := newFakeGateway()
	return newTestServer(t, testDeps(gw)), gw
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	for _, rec := range []device.Record{kitchenLight, loungeBlind} {
		if _, err := deps.Registry.Add(rec); err != nil {
			t.Fatalf("Add(%s): %v", rec.Name, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)
	return srv
}

// startedServer creates and starts a Server on an ephemeral port.
func startedServer(t *testing.T) (*Server, *fakeGateway) {
	t.Helper()
	gw := newFakeGateway()
	srv, err := New(testDeps(gw))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	for _, rec := range []device.Record{kitchenLight, loungeBlind} {
		if _, err := srv.registry.Add(rec); err != nil {
			t.Fatalf("Add(%s): %v", rec.Name, err)
		}
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, gw
}
