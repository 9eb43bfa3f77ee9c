package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/yunmao-bridge/internal/device"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/mqtt"
)

const (
	// commandTimeout bounds one device command, covering every key of a
	// paired light.
	commandTimeout = 5 * time.Second

	defaultQoS = 1
)

// ErrNotStarted is returned by Stop before Start.
var ErrNotStarted = errors.New("mqttbridge: not started")

// MQTTClient is the subset of *mqtt.Client used by the bridge.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Registry is the subset of *device.Registry used by the bridge.
type Registry interface {
	List() []device.Entity
	Execute(ctx context.Context, name string, cmd device.Command) error
	OnChange(fn func(device.Event))
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Bridge.
type Options struct {
	MQTT     MQTTClient
	Registry Registry
	QoS      byte
	Logger   Logger
}

// Stats holds bridge counters.
type Stats struct {
	StatesPublished  uint64 `json:"states_published"`
	PublishFailures  uint64 `json:"publish_failures"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
}

// Bridge publishes registry state changes and executes MQTT commands.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt     MQTTClient
	registry Registry
	qos      byte
	topics   mqtt.Topics

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	ctxMu   sync.RWMutex
	once    sync.Once

	statesPublished  atomic.Uint64
	publishFailures  atomic.Uint64
	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. MQTT and Registry are required.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, errors.New("mqttbridge: MQTT client is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("mqttbridge: registry is required")
	}
	qos := opts.QoS
	if qos > 2 {
		qos = defaultQoS
	}
	return &Bridge{
		mqtt:     opts.MQTT,
		registry: opts.Registry,
		qos:      qos,
		logger:   opts.Logger,
	}, nil
}

// Start subscribes to command topics, registers for state changes and
// publishes the current state of every known entity.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctxMu.Lock()
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.ctxMu.Unlock()

	if err := b.mqtt.Subscribe(b.topics.AllCommands(), b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	b.once.Do(func() { b.registry.OnChange(b.handleEvent) })
	b.running.Store(true)

	published := 0
	for _, e := range b.registry.List() {
		state := e.State()
		if !state.Known() {
			continue
		}
		b.publishState(newStateMessage(device.Event{
			Device: e.Name(),
			Kind:   e.Kind(),
			State:  state,
			Source: device.SourceGateway,
			Time:   time.Now(),
		}))
		published++
	}

	b.logInfo("mqtt bridge started", "topic", b.topics.AllCommands(), "initial_states", published)
	return nil
}

// Stop unsubscribes from command topics. State changes are no longer
// published.
func (b *Bridge) Stop() error {
	if !b.running.Swap(false) {
		return ErrNotStarted
	}

	b.ctxMu.RLock()
	cancel := b.cancel
	b.ctxMu.RUnlock()
	if cancel != nil {
		cancel()
	}

	if err := b.mqtt.Unsubscribe(b.topics.AllCommands()); err != nil {
		return fmt.Errorf("unsubscribing from commands: %w", err)
	}
	b.logInfo("mqtt bridge stopped")
	return nil
}

// Stats returns bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		StatesPublished:  b.statesPublished.Load(),
		PublishFailures:  b.publishFailures.Load(),
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
	}
}

func (b *Bridge) handleEvent(ev device.Event) {
	if !b.running.Load() {
		return
	}
	b.publishState(newStateMessage(ev))
}

func (b *Bridge) publishState(msg StateMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err, "device", msg.Device)
		return
	}
	if err := b.mqtt.Publish(b.topics.State(msg.Device), payload, b.qos, true); err != nil {
		b.publishFailures.Add(1)
		b.logError("failed to publish state", err, "device", msg.Device)
		return
	}
	b.statesPublished.Add(1)
}

// handleCommand executes a command from yunmao/command/<device> and
// publishes an acknowledgement. Malformed payloads are acked as failed.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	b.commandsReceived.Add(1)

	name := b.topics.DeviceFromTopic(topic)
	if name == "" {
		b.commandsFailed.Add(1)
		return fmt.Errorf("mqttbridge: no device in topic %q", topic)
	}

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.commandsFailed.Add(1)
		err = fmt.Errorf("%w: %v", device.ErrInvalidCommand, err)
		b.publishAck(newAck(msg, name, err))
		return err
	}

	ctx, cancel := context.WithTimeout(device.WithOrigin(b.baseContext(), device.OriginMQTT), commandTimeout)
	defer cancel()

	err := b.registry.Execute(ctx, name, device.Command{
		Command:  msg.Command,
		Position: msg.Position,
	})
	if err != nil {
		b.commandsFailed.Add(1)
	}
	b.logDebug("mqtt command handled", "device", name, "command", msg.Command, "ok", err == nil)
	b.publishAck(newAck(msg, name, err))
	return nil
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(ack.Device), payload, b.qos, false); err != nil {
		b.logError("failed to publish ack", err, "device", ack.Device)
	}
}

func (b *Bridge) baseContext() context.Context {
	b.ctxMu.RLock()
	defer b.ctxMu.RUnlock()
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
