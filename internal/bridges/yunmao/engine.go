package yunmao

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config holds engine settings for one gateway.
type Config struct {
	// GatewayAddress is the gateway IP used for commands and polling.
	GatewayAddress string

	// CommandPort is the gateway command/query port. Default: 8888.
	CommandPort int

	// PushBind is the local push listener bind address. Default: ":21688".
	PushBind string

	// CommandTimeout bounds one command. Default: 2s.
	CommandTimeout time.Duration

	// QueryTimeout bounds the poll dial and each read chunk. Default: 5s.
	QueryTimeout time.Duration

	// IdleTimeout closes quiet push connections. Default: 120s.
	IdleTimeout time.Duration

	// PollInterval is the poll tick period. Default: 5s.
	PollInterval time.Duration

	// PollPolicy selects how polling reacts to push data. Default: fallback.
	PollPolicy PollPolicy

	// PushFreshWindow is how long push data suppresses fallback polling.
	// Default: 120s.
	PushFreshWindow time.Duration
}

// EngineOptions holds the dependencies for NewEngine.
type EngineOptions struct {
	// Config is the gateway configuration.
	Config Config

	// Logger is an optional structured logger.
	Logger Logger

	// Dialer overrides the network dialer for commands and polls.
	Dialer Dialer
}

// Stats aggregates engine counters.
type Stats struct {
	Gateway       string        `json:"gateway"`
	Running       bool          `json:"running"`
	Listener      ListenerStats `json:"listener"`
	Poller        PollerStats   `json:"poller"`
	PollingActive bool          `json:"polling_active"`
	CommandsSent  uint64        `json:"commands_sent"`
	CommandsFail  uint64        `json:"commands_failed"`
	Cache         CacheStats    `json:"cache"`
	LastPush      time.Time     `json:"last_push"`
}

// Engine runs the push listener and the poller against one shared
// StateCache and exposes command sending for device entities.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	logSink

	cfg      Config
	cache    *StateCache
	sender   *Sender
	listener *Listener
	poller   *Poller
	running  atomic.Bool
}

// NewEngine builds an engine. Call Run to start the listener and poller.
//
// Returns:
//   - *Engine: Ready to run
//   - error: Wraps ErrInvalidConfig if the gateway address is missing or not an IP
func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	if cfg.GatewayAddress == "" {
		return nil, fmt.Errorf("%w: gateway address is required", ErrInvalidConfig)
	}
	if net.ParseIP(cfg.GatewayAddress) == nil {
		return nil, fmt.Errorf("%w: gateway address %q is not an IP address", ErrInvalidConfig, cfg.GatewayAddress)
	}
	if cfg.PollPolicy != "" && !cfg.PollPolicy.Valid() {
		return nil, fmt.Errorf("%w: unknown poll policy %q", ErrInvalidConfig, cfg.PollPolicy)
	}
	if cfg.PushBind == "" {
		cfg.PushBind = ":" + strconv.Itoa(PushPort)
	}

	cache := NewStateCache()
	e := &Engine{
		cfg:   cfg,
		cache: cache,
		sender: NewSender(SenderConfig{
			Port:    cfg.CommandPort,
			Timeout: cfg.CommandTimeout,
			Dialer:  opts.Dialer,
		}),
		listener: NewListener(ListenerConfig{
			Address:        cfg.PushBind,
			GatewayAddress: cfg.GatewayAddress,
			IdleTimeout:    cfg.IdleTimeout,
		}, cache),
		poller: NewPoller(PollerConfig{
			GatewayAddress: cfg.GatewayAddress,
			Port:           cfg.CommandPort,
			Interval:       cfg.PollInterval,
			ReadTimeout:    cfg.QueryTimeout,
			Policy:         cfg.PollPolicy,
			FreshWindow:    cfg.PushFreshWindow,
			Dialer:         opts.Dialer,
		}, cache),
	}

	if opts.Logger != nil {
		e.SetLogger(opts.Logger)
	}
	return e, nil
}

// SetLogger sets the logger on the engine and all of its components.
func (e *Engine) SetLogger(logger Logger) {
	e.logSink.SetLogger(logger)
	e.cache.SetLogger(logger)
	e.sender.SetLogger(logger)
	e.listener.SetLogger(logger)
	e.poller.SetLogger(logger)
}

// Run starts the push listener and the poller and blocks until ctx is
// cancelled or the listener fails to bind.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: gateway %s", ErrAlreadyRunning, e.cfg.GatewayAddress)
	}
	defer e.running.Store(false)

	e.logInfo("gateway engine starting",
		"gateway", e.cfg.GatewayAddress,
		"push_bind", e.cfg.PushBind)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.listener.ListenAndServe(gctx) })
	g.Go(func() error { return e.poller.Run(gctx) })

	err := g.Wait()
	e.logInfo("gateway engine stopped")
	return err
}

// GatewayAddress returns the configured gateway IP.
func (e *Engine) GatewayAddress() string { return e.cfg.GatewayAddress }

// Cache returns the shared state cache.
func (e *Engine) Cache() *StateCache { return e.cache }

// Poller returns the poller, for one-shot queries.
func (e *Engine) Poller() *Poller { return e.poller }

// Listener returns the push listener.
func (e *Engine) Listener() *Listener { return e.listener }

// SendCommand sends one attribute to a module on the configured gateway.
// The cache is not updated; observed state arrives via push or poll.
func (e *Engine) SendCommand(ctx context.Context, mac, attr, value string) error {
	return e.sender.SendCommand(ctx, e.cfg.GatewayAddress, mac, attr, value)
}

// SetSwitch turns one switch circuit on or off.
func (e *Engine) SetSwitch(ctx context.Context, key DeviceKey, on bool) error {
	if key.Position < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPosition, key.Position)
	}
	return e.SendCommand(ctx, key.MAC, SwitchAttr(key.Position), SwitchValue(on))
}

// SetWindow sends OPEN, CLOSE or STOP to a curtain module.
func (e *Engine) SetWindow(ctx context.Context, mac, action string) error {
	if _, ok := translateWindow(action); !ok {
		return fmt.Errorf("%w: unknown window action %q", ErrCommand, action)
	}
	return e.SendCommand(ctx, mac, AttrWindow, action)
}

// SetLevel moves a curtain module to a position in 0..100.
func (e *Engine) SetLevel(ctx context.Context, mac string, level int) error {
	if level < PositionClosed || level > PositionOpen {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	return e.SendCommand(ctx, mac, AttrLevel, strconv.Itoa(level))
}

// SubscribeSwitch registers a switch subscriber on the shared cache.
func (e *Engine) SubscribeSwitch(key DeviceKey, fn func(bool)) *Subscription {
	return e.cache.SubscribeSwitch(key, fn)
}

// SubscribeWindow registers a curtain subscriber on the shared cache.
func (e *Engine) SubscribeWindow(mac string, fn func(WindowState)) *Subscription {
	return e.cache.SubscribeWindow(mac, fn)
}

// Resync redelivers the cached state of the given subscriptions.
func (e *Engine) Resync(subs ...*Subscription) int {
	return e.cache.Resync(subs...)
}

// Snapshot returns a copy of the configured gateway's snapshot.
func (e *Engine) Snapshot() AttributeSnapshot {
	return e.cache.Snapshot(e.cfg.GatewayAddress)
}

// Stats returns aggregated counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Gateway:       e.cfg.GatewayAddress,
		Running:       e.running.Load(),
		Listener:      e.listener.Stats(),
		Poller:        e.poller.Stats(),
		PollingActive: e.poller.Active(),
		CommandsSent:  e.sender.Sent(),
		CommandsFail:  e.sender.Failed(),
		Cache:         e.cache.Stats(),
		LastPush:      e.cache.LastPush(e.cfg.GatewayAddress),
	}
}

// HealthCheck reports whether the engine is running.
func (e *Engine) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("yunmao health check: %w", ctx.Err())
	default:
	}
	if !e.running.Load() {
		return ErrNotRunning
	}
	return nil
}
