package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
)

// Light is an on/off circuit, optionally paired with a second key that is
// switched together with the first.
type Light struct {
	rec  Record
	keys []yunmao.DeviceKey
	ctl  Controller
	emit emitter
	now  func() time.Time

	mu        sync.Mutex
	on        bool
	known     bool
	holdUntil time.Time
	updatedAt time.Time
	subs      []*yunmao.Subscription

	// timer fires when the hold-off ends and resyncs from the cache.
	timer *time.Timer
}

func newLight(rec Record, ctl Controller, emit emitter) *Light {
	return &Light{
		rec:  rec,
		keys: rec.Keys(),
		ctl:  ctl,
		emit: emit,
		now:  time.Now,
	}
}

// Name returns the entity name.
func (l *Light) Name() string { return l.rec.Name }

// Kind returns KindLight.
func (l *Light) Kind() Kind { return KindLight }

// Record returns the directory record the light was built from.
func (l *Light) Record() Record { return l.rec }

// Keys returns the switch keys driven by the light.
func (l *Light) Keys() []yunmao.DeviceKey {
	return append([]yunmao.DeviceKey(nil), l.keys...)
}

// State returns the current state.
func (l *Light) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

// IsOn reports the current state; ok is false until a state is known.
func (l *Light) IsOn() (on, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on, l.known
}

// TurnOn switches every key on.
func (l *Light) TurnOn(ctx context.Context) error { return l.set(ctx, true) }

// TurnOff switches every key off.
func (l *Light) TurnOff(ctx context.Context) error { return l.set(ctx, false) }

// Execute runs an on or off command.
func (l *Light) Execute(ctx context.Context, cmd Command) error {
	switch cmd.Command {
	case CommandOn:
		return l.TurnOn(ctx)
	case CommandOff:
		return l.TurnOff(ctx)
	default:
		return fmt.Errorf("%w: light %q does not support %q", ErrInvalidCommand, l.rec.Name, cmd.Command)
	}
}

// set applies the desired state optimistically, then writes every key.
// All keys are attempted even when an earlier one fails. The state is
// reverted only when no key reached the gateway; otherwise the cache is
// re-read when the hold-off ends.
func (l *Light) set(ctx context.Context, on bool) error {
	l.mu.Lock()
	prevOn, prevKnown, prevHold, prevUpdated := l.on, l.known, l.holdUntil, l.updatedAt
	now := l.now()
	l.on = on
	l.known = true
	l.holdUntil = now.Add(HoldOff)
	l.updatedAt = now
	l.armLocked(HoldOff)
	state := l.stateLocked()
	l.mu.Unlock()

	l.notify(state, SourceCommand)

	var errs []error
	unreached := 0
	for _, key := range l.keys {
		if err := l.ctl.SetSwitch(ctx, key, on); err != nil {
			errs = append(errs, fmt.Errorf("key %s: %w", key, err))
			if errors.Is(err, yunmao.ErrCommand) {
				unreached++
			}
		}
	}
	err := errors.Join(errs...)
	if err == nil {
		return nil
	}

	if unreached == len(l.keys) {
		l.mu.Lock()
		l.on, l.known, l.holdUntil, l.updatedAt = prevOn, prevKnown, prevHold, prevUpdated
		now = l.now()
		l.armLocked(l.holdUntil.Sub(now))
		held := now.Before(l.holdUntil)
		state = l.stateLocked()
		l.mu.Unlock()

		l.notify(state, SourceRevert)
		if !held {
			l.resync()
		}
	}
	return fmt.Errorf("light %q: %w", l.rec.Name, err)
}

// observe handles a decoded switch value from the cache. Values arriving
// during the hold-off are dropped; reconcile re-reads the cache after it.
func (l *Light) observe(on bool) {
	l.mu.Lock()
	now := l.now()
	if now.Before(l.holdUntil) || (l.known && l.on == on) {
		l.mu.Unlock()
		return
	}
	l.on = on
	l.known = true
	l.updatedAt = now
	state := l.stateLocked()
	l.mu.Unlock()

	l.notify(state, SourceGateway)
}

// reconcile runs when the hold-off ends. A timer superseded by a newer
// command finds the hold-off still active and does nothing.
func (l *Light) reconcile() {
	l.mu.Lock()
	if l.now().Before(l.holdUntil) {
		l.mu.Unlock()
		return
	}
	l.timer = nil
	l.mu.Unlock()

	l.resync()
}

// resync asks the cache to redeliver the primary key's current value, so
// a gateway that kept reporting the old value still overrides the
// optimistic state. The secondary key is used only while the primary
// module has never reported.
func (l *Light) resync() {
	l.mu.Lock()
	subs := append([]*yunmao.Subscription(nil), l.subs...)
	l.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	if l.ctl.Resync(subs[0]) == 0 && len(subs) > 1 {
		l.ctl.Resync(subs[1:]...)
	}
}

func (l *Light) attach(sub *yunmao.Subscription) {
	if sub == nil {
		return
	}
	l.mu.Lock()
	l.subs = append(l.subs, sub)
	l.mu.Unlock()
}

func (l *Light) armLocked(d time.Duration) {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if d > 0 {
		l.timer = time.AfterFunc(d, l.reconcile)
	}
}

func (l *Light) stateLocked() State {
	s := State{UpdatedAt: l.updatedAt}
	if l.known {
		s.On = boolPtr(l.on)
	}
	return s
}

func (l *Light) notify(state State, source Source) {
	if l.emit == nil {
		return
	}
	l.emit(Event{
		Device: l.rec.Name,
		Kind:   KindLight,
		State:  state,
		Source: source,
		Time:   l.now(),
	})
}
