package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
	"github.com/nerrad567/yunmao-bridge/internal/device"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/config"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/influxdb"
)

// fakeGateway accepts connections on the command port, records each request
// and answers with a fixed body.
type fakeGateway struct {
	ln       net.Listener
	response string

	mu       sync.Mutex
	requests []string
}

func newFakeGateway(t *testing.T, response string) *fakeGateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	g := &fakeGateway{ln: ln, response: response}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go g.handle(conn)
		}
	}()
	return g
}

func (g *fakeGateway) handle(conn net.Conn) {
	defer conn.Close()
	//nolint:errcheck // test gateway
	conn.SetReadDeadline(time.Now().Add(time.Second))
	req, _ := io.ReadAll(conn) //nolint:errcheck // commands end with a close, not EOF from CloseWrite
	g.mu.Lock()
	g.requests = append(g.requests, string(req))
	g.mu.Unlock()
	conn.Write([]byte(g.response)) //nolint:errcheck // test gateway
}

func (g *fakeGateway) port() int { return g.ln.Addr().(*net.TCPAddr).Port }

func (g *fakeGateway) Requests() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.requests...)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func gatewayConfig(t *testing.T, port int) string {
	return writeConfig(t, fmt.Sprintf(`
gateway:
  address: "127.0.0.1"
  command_port: %d
  command_timeout: 1s
  query_timeout: 1s
database:
  path: %q
`, port, filepath.Join(t.TempDir(), "yunmao.db")))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(configEnv, "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("resolveConfigPath() = %q, want default", got)
	}

	t.Setenv(configEnv, "/etc/yunmao.yaml")
	if got := resolveConfigPath(""); got != "/etc/yunmao.yaml" {
		t.Errorf("resolveConfigPath() = %q, want env value", got)
	}
	if got := resolveConfigPath("/tmp/flag.yaml"); got != "/tmp/flag.yaml" {
		t.Errorf("resolveConfigPath(flag) = %q, want flag value", got)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want loading config failure", err)
	}
}

func TestRun_InvalidGatewayAddress(t *testing.T) {
	path := writeConfig(t, "gateway:\n  address: gateway.local\n")

	err := run(context.Background(), path)
	if err == nil {
		t.Fatal("run() should reject a hostname gateway address")
	}
}

func TestRun_StartsAndStops(t *testing.T) {
	gw := newFakeGateway(t, `{"attributes":{"FFFF301B977B72F1":{"SWI":"0x2"}}}`)
	dir := t.TempDir()
	pushPort := freePort(t)
	path := writeConfig(t, fmt.Sprintf(`
gateway:
  address: "127.0.0.1"
  command_port: %d
  push_bind: "127.0.0.1"
  push_port: %d
  poll_interval: 50ms
  query_timeout: 1s
devices:
  - name: kitchen
    kind: light
    mac: FFFF301B977B72F1
    position: 2
database:
  path: %q
api:
  enabled: false
logging:
  level: error
  output: stderr
`, gw.port(), pushPort, filepath.Join(dir, "yunmao.db")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	deadline := time.Now().Add(3 * time.Second)
	for len(gw.Requests()) == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("bridge never polled the gateway")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil on shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, err := os.Stat(filepath.Join(dir, "yunmao.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "yunmaobridge "+version) {
		t.Errorf("output = %q", out)
	}
}

func TestQueryCommand(t *testing.T) {
	gw := newFakeGateway(t, `{"attributes":{"FFFF88571DE7E9D9":{"WIN":"OPEN"},"FFFF301B977B72F1":{"SWI":"0x2"}}}`)
	path := gatewayConfig(t, gw.port())

	out, err := execute(t, "--config", path, "query")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("output = %q, want two modules", out)
	}
	if !strings.HasPrefix(lines[0], "FFFF301B977B72F1 ") || !strings.Contains(lines[0], `"SWI":"0x2"`) {
		t.Errorf("first line = %q, want sorted output", lines[0])
	}

	reqs := gw.Requests()
	if len(reqs) != 1 || !strings.Contains(reqs[0], `"requestType":"query"`) {
		t.Errorf("requests = %v", reqs)
	}
}

func TestQueryCommand_SingleModule(t *testing.T) {
	gw := newFakeGateway(t, `{"attributes":{"FFFF88571DE7E9D9":{"WIN":"OPEN"},"FFFF301B977B72F1":{"SWI":"0x2"}}}`)
	path := gatewayConfig(t, gw.port())

	out, err := execute(t, "--config", path, "query", "--mac", "FFFF88571DE7E9D9")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if strings.Count(out, "\n") != 1 || !strings.Contains(out, "OPEN") {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, "--config", path, "query", "--mac", "FFFF000000000000"); err == nil {
		t.Error("query for unknown module should fail")
	}
}

func TestSendCommand(t *testing.T) {
	gw := newFakeGateway(t, "")
	path := gatewayConfig(t, gw.port())

	out, err := execute(t, "--config", path, "send", "--mac", "FFFF301B977B72F1", "--attr", "KY2", "--value", "ON")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "sent KY2=ON") {
		t.Errorf("output = %q", out)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(gw.Requests()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	reqs := gw.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %v, want 1", reqs)
	}
	for _, want := range []string{`"requestType":"cmd"`, `"id":"FFFF301B977B72F1"`, `"KY2":"ON"`} {
		if !strings.Contains(reqs[0], want) {
			t.Errorf("request %s missing %s", reqs[0], want)
		}
	}
}

func TestSendCommand_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing flags", []string{"send", "--mac", "FFFF301B977B72F1"}},
		{"bad mac", []string{"send", "--mac", "nothex", "--attr", "KY1", "--value", "ON"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDeviceStatePoint(t *testing.T) {
	on := true
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := deviceStatePoint(device.Event{
		Device: "kitchen",
		Kind:   device.KindLight,
		State:  device.State{On: &on},
		Source: device.SourceCommand,
		Time:   ts,
	})

	if got.Device != "kitchen" || got.Kind != "light" || got.Source != "command" {
		t.Errorf("point = %+v", got)
	}
	if got.On == nil || !*got.On || got.Position != nil || !got.Time.Equal(ts) {
		t.Errorf("point = %+v", got)
	}
}

type fakeStats struct{}

func (fakeStats) Stats() yunmao.Stats {
	return yunmao.Stats{
		Gateway:      "192.168.88.118",
		CommandsSent: 4,
		Listener:     yunmao.ListenerStats{FramesReceived: 12, ActiveConnections: 1},
		Poller:       yunmao.PollerStats{PollsOK: 3},
	}
}

func (fakeStats) Snapshot() yunmao.AttributeSnapshot {
	return yunmao.AttributeSnapshot{"FFFF301B977B72F1": {"SWI": "0x2"}}
}

type statsRecorder struct {
	mu     sync.Mutex
	points []influxdb.GatewayStats
}

func (r *statsRecorder) WriteGatewayStats(s influxdb.GatewayStats) {
	r.mu.Lock()
	r.points = append(r.points, s)
	r.mu.Unlock()
}

func (r *statsRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

func TestRecordStats(t *testing.T) {
	rec := &statsRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		recordStats(ctx, fakeStats{}, rec, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if rec.count() < 2 {
		t.Fatalf("points = %d, want at least 2", rec.count())
	}
	rec.mu.Lock()
	p := rec.points[0]
	rec.mu.Unlock()
	if p.Gateway != "192.168.88.118" || p.PushFrames != 12 || p.PollsOK != 3 || p.CommandsSent != 4 || p.ModulesTracked != 1 {
		t.Errorf("point = %+v", p)
	}
}

func TestStatsInterval(t *testing.T) {
	if got := statsInterval(config.InfluxDBConfig{}); got != defaultStatsInterval {
		t.Errorf("statsInterval(zero) = %v, want %v", got, defaultStatsInterval)
	}
	if got := statsInterval(config.InfluxDBConfig{StatsInterval: 15}); got != 15*time.Second {
		t.Errorf("statsInterval(15) = %v, want 15s", got)
	}
}
