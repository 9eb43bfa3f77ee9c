package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds the entities built from the device directory and fans out
// their state changes.
//
// All public methods are thread-safe.
type Registry struct {
	ctl Controller

	mu       sync.RWMutex
	entities map[string]Entity

	listenersMu      sync.RWMutex
	listeners        []func(Event)
	commandListeners []func(CommandResult)

	loggerMu sync.RWMutex
	logger   Logger

	events atomic.Uint64
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	Total    int    `json:"total"`
	Lights   int    `json:"lights"`
	Curtains int    `json:"curtains"`
	Known    int    `json:"known"`
	Events   uint64 `json:"events"`
}

// NewRegistry creates an empty registry whose entities command and observe
// the gateway through ctl.
func NewRegistry(ctl Controller) *Registry {
	return &Registry{
		ctl:      ctl,
		entities: make(map[string]Entity),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Registry) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// OnChange registers fn to receive every state change. Register listeners
// before Load so the initial cached state is delivered to them.
func (r *Registry) OnChange(fn func(Event)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

// OnCommand registers fn to receive the outcome of every Execute call on a
// known device.
func (r *Registry) OnCommand(fn func(CommandResult)) {
	r.listenersMu.Lock()
	r.commandListeners = append(r.commandListeners, fn)
	r.listenersMu.Unlock()
}

// Load builds an entity for every record in repo.
//
// Returns:
//   - int: Number of entities added
//   - error: If listing fails; invalid or duplicate records are logged and skipped
func (r *Registry) Load(ctx context.Context, repo Repository) (int, error) {
	records, err := repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading devices: %w", err)
	}

	added := 0
	for _, rec := range records {
		if _, err := r.Add(rec); err != nil {
			r.log().Warn("skipping device", "device", rec.Name, "error", err)
			continue
		}
		added++
	}
	r.log().Info("device registry loaded", "count", added)
	return added, nil
}

// Add builds the entity for rec and subscribes it to the state cache. A
// subscriber bound to a module the cache already knows receives the current
// state immediately.
func (r *Registry) Add(rec Record) (Entity, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	var entity Entity
	var subscribe func()
	switch rec.Kind {
	case KindLight:
		l := newLight(rec, r.ctl, r.emit)
		entity = l
		subscribe = func() {
			for _, key := range l.keys {
				l.attach(r.ctl.SubscribeSwitch(key, l.observe))
			}
		}
	case KindCurtain:
		c := newCurtain(rec, r.ctl, r.emit)
		entity = c
		subscribe = func() {
			c.attach(r.ctl.SubscribeWindow(rec.MAC, c.observe))
		}
	}

	r.mu.Lock()
	if _, exists := r.entities[rec.Name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDeviceExists, rec.Name)
	}
	r.entities[rec.Name] = entity
	r.mu.Unlock()

	subscribe()
	r.log().Debug("device added", "device", rec.Name, "kind", rec.Kind, "mac", rec.MAC)
	return entity, nil
}

// Get returns the entity with the given name.
func (r *Registry) Get(name string) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entity, ok := r.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}
	return entity, nil
}

// List returns every entity sorted by name.
func (r *Registry) List() []Entity {
	r.mu.RLock()
	list := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		list = append(list, e)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Count returns the number of entities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Execute runs cmd on the named entity. The origin attached to ctx with
// WithOrigin is passed on to OnCommand listeners.
func (r *Registry) Execute(ctx context.Context, name string, cmd Command) error {
	entity, err := r.Get(name)
	if err != nil {
		return err
	}

	err = entity.Execute(ctx, cmd)
	r.emitCommand(CommandResult{
		Device:   name,
		Kind:     entity.Kind(),
		Command:  cmd.Command,
		Position: cmd.Position,
		Origin:   OriginFrom(ctx),
		Err:      err,
		Time:     time.Now(),
	})
	if err != nil {
		r.log().Warn("device command failed", "device", name, "command", cmd.Command, "error", err)
		return err
	}
	r.log().Debug("device command sent", "device", name, "command", cmd.Command)
	return nil
}

// Stats returns current registry statistics.
func (r *Registry) Stats() Stats {
	stats := Stats{Events: r.events.Load()}
	for _, e := range r.List() {
		stats.Total++
		switch e.Kind() {
		case KindLight:
			stats.Lights++
		case KindCurtain:
			stats.Curtains++
		}
		if e.State().Known() {
			stats.Known++
		}
	}
	return stats
}

func (r *Registry) emit(ev Event) {
	r.events.Add(1)

	r.listenersMu.RLock()
	listeners := append(([]func(Event))(nil), r.listeners...)
	r.listenersMu.RUnlock()

	for _, fn := range listeners {
		r.deliver(fn, ev)
	}
}

func (r *Registry) emitCommand(res CommandResult) {
	r.listenersMu.RLock()
	listeners := append(([]func(CommandResult))(nil), r.commandListeners...)
	r.listenersMu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log().Error("command listener panicked", "device", res.Device, "panic", p)
				}
			}()
			fn(res)
		}()
	}
}

func (r *Registry) deliver(fn func(Event), ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.log().Error("device listener panicked", "device", ev.Device, "panic", p)
		}
	}()
	fn(ev)
}
