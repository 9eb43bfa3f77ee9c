package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
	"github.com/nerrad567/yunmao-bridge/internal/device"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type mockMQTT struct {
	mu         sync.Mutex
	published  []published
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *mockMQTT) IsConnected() bool { return true }

func (m *mockMQTT) deliver(t *testing.T, topic string, payload string) error {
	t.Helper()
	m.mu.Lock()
	handler := m.handlers["yunmao/command/+"]
	m.mu.Unlock()
	if handler == nil {
		t.Fatal("no command subscription")
	}
	return handler(topic, []byte(payload))
}

func (m *mockMQTT) messages(topic string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type stubEntity struct {
	name  string
	kind  device.Kind
	state device.State
}

func (s *stubEntity) Name() string                                  { return s.name }
func (s *stubEntity) Kind() device.Kind                             { return s.kind }
func (s *stubEntity) Record() device.Record                         { return device.Record{Name: s.name, Kind: s.kind} }
func (s *stubEntity) State() device.State                           { return s.state }
func (s *stubEntity) Execute(context.Context, device.Command) error { return nil }

type mockRegistry struct {
	mu        sync.Mutex
	entities  []device.Entity
	listeners []func(device.Event)
	executed  []string
	origins   []string
	execErr   error
}

func (r *mockRegistry) List() []device.Entity { return r.entities }

func (r *mockRegistry) Execute(ctx context.Context, name string, cmd device.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.origins = append(r.origins, device.OriginFrom(ctx))
	found := false
	for _, e := range r.entities {
		if e.Name() == name {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", device.ErrDeviceNotFound, name)
	}
	call := name + " " + cmd.Command
	if cmd.Position != nil {
		call += fmt.Sprintf(" %d", *cmd.Position)
	}
	r.executed = append(r.executed, call)
	return r.execErr
}

func (r *mockRegistry) OnChange(fn func(device.Event)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *mockRegistry) emit(ev device.Event) {
	r.mu.Lock()
	listeners := append(([]func(device.Event))(nil), r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func boolPtr(b bool) *bool { return &b }

func startBridge(t *testing.T, reg *mockRegistry) (*Bridge, *mockMQTT) {
	t.Helper()
	client := newMockMQTT()
	b, err := New(Options{MQTT: client, Registry: reg, QoS: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { b.Stop() }) //nolint:errcheck // test cleanup
	return b, client
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Options{Registry: &mockRegistry{}}); err == nil {
		t.Error("New() without MQTT should fail")
	}
	if _, err := New(Options{MQTT: newMockMQTT()}); err == nil {
		t.Error("New() without registry should fail")
	}
}

func TestStart_PublishesKnownStates(t *testing.T) {
	reg := &mockRegistry{entities: []device.Entity{
		&stubEntity{name: "hall", kind: device.KindLight, state: device.State{On: boolPtr(true)}},
		&stubEntity{name: "kitchen", kind: device.KindLight},
	}}
	_, client := startBridge(t, reg)

	msgs := client.messages("yunmao/state/hall")
	if len(msgs) != 1 || !msgs[0].retained {
		t.Fatalf("hall state messages = %+v, want 1 retained", msgs)
	}
	if len(client.messages("yunmao/state/kitchen")) != 0 {
		t.Error("unknown state should not be published")
	}

	var got StateMessage
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if got.Device != "hall" || got.State.On == nil || !*got.State.On {
		t.Errorf("state = %+v", got)
	}
}

func TestStateChangePublished(t *testing.T) {
	reg := &mockRegistry{}
	b, client := startBridge(t, reg)

	reg.emit(device.Event{
		Device: "lounge-curtain",
		Kind:   device.KindCurtain,
		State:  device.State{Closed: boolPtr(false)},
		Source: device.SourceGateway,
		Time:   time.Now(),
	})

	if len(client.messages("yunmao/state/lounge-curtain")) != 1 {
		t.Fatal("state change not published")
	}
	if b.Stats().StatesPublished != 1 {
		t.Errorf("StatesPublished = %d, want 1", b.Stats().StatesPublished)
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	reg.emit(device.Event{Device: "lounge-curtain", Kind: device.KindCurtain})
	if len(client.messages("yunmao/state/lounge-curtain")) != 1 {
		t.Error("state published after Stop")
	}
	if err := b.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("second Stop() error = %v, want ErrNotStarted", err)
	}
}

func TestCommand_Accepted(t *testing.T) {
	reg := &mockRegistry{entities: []device.Entity{&stubEntity{name: "lounge-curtain", kind: device.KindCurtain}}}
	_, client := startBridge(t, reg)

	err := client.deliver(t, "yunmao/command/lounge-curtain", `{"id":"c-1","command":"position","position":30}`)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(reg.executed) != 1 || reg.executed[0] != "lounge-curtain position 30" {
		t.Errorf("executed = %v", reg.executed)
	}
	if len(reg.origins) != 1 || reg.origins[0] != device.OriginMQTT {
		t.Errorf("origins = %v, want [mqtt]", reg.origins)
	}

	acks := client.messages("yunmao/ack/lounge-curtain")
	if len(acks) != 1 || acks[0].retained {
		t.Fatalf("acks = %+v, want 1 non-retained", acks)
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.CommandID != "c-1" || ack.Status != AckAccepted || ack.Error != "" {
		t.Errorf("ack = %+v", ack)
	}
}

func TestCommand_Failures(t *testing.T) {
	tests := []struct {
		name       string
		topic      string
		payload    string
		execErr    error
		wantAck    bool
		wantHandle bool
	}{
		{
			name:    "gateway unreachable",
			topic:   "yunmao/command/hall",
			payload: `{"command":"on"}`,
			execErr: fmt.Errorf("%w: connection refused", yunmao.ErrCommand),
			wantAck: true,
		},
		{
			name:    "unknown device",
			topic:   "yunmao/command/attic",
			payload: `{"command":"on"}`,
			wantAck: true,
		},
		{
			name:       "malformed payload",
			topic:      "yunmao/command/hall",
			payload:    `{"command":`,
			wantAck:    true,
			wantHandle: true,
		},
		{
			name:       "no device in topic",
			topic:      "yunmao/command/",
			payload:    `{"command":"on"}`,
			wantHandle: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &mockRegistry{
				entities: []device.Entity{&stubEntity{name: "hall", kind: device.KindLight}},
				execErr:  tt.execErr,
			}
			b, client := startBridge(t, reg)

			err := client.deliver(t, tt.topic, tt.payload)
			if (err != nil) != tt.wantHandle {
				t.Errorf("handler error = %v, want error %v", err, tt.wantHandle)
			}

			var acks []published
			client.mu.Lock()
			for _, p := range client.published {
				if strings.HasPrefix(p.topic, "yunmao/ack/") {
					acks = append(acks, p)
				}
			}
			client.mu.Unlock()
			if tt.wantAck != (len(acks) == 1) {
				t.Fatalf("acks = %d, want ack %v", len(acks), tt.wantAck)
			}
			if tt.wantAck {
				var ack AckMessage
				if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
					t.Fatalf("unmarshal ack: %v", err)
				}
				if ack.Status != AckFailed || ack.Error == "" || ack.CommandID == "" {
					t.Errorf("ack = %+v, want failed with error and generated id", ack)
				}
			}
			if b.Stats().CommandsFailed != 1 {
				t.Errorf("CommandsFailed = %d, want 1", b.Stats().CommandsFailed)
			}
		})
	}
}

func TestPublishFailureCounted(t *testing.T) {
	reg := &mockRegistry{}
	b, client := startBridge(t, reg)

	client.mu.Lock()
	client.publishErr = mqtt.ErrNotConnected
	client.mu.Unlock()

	reg.emit(device.Event{Device: "hall", Kind: device.KindLight, Time: time.Now()})
	if b.Stats().PublishFailures != 1 {
		t.Errorf("PublishFailures = %d, want 1", b.Stats().PublishFailures)
	}
}
