package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
)

// Curtain is a motorised cover driven through the WIN and LEV attributes.
type Curtain struct {
	rec  Record
	ctl  Controller
	emit emitter
	now  func() time.Time

	mu        sync.Mutex
	known     bool
	closed    bool
	position  int
	moving    string
	lastOp    time.Time
	updatedAt time.Time
	sub       *yunmao.Subscription

	// level is set while the state carries a LEV target. WIN reports only
	// open, closed or stopped, so an open report does not override it.
	level bool
	cmdAt time.Time
	timer *time.Timer
}

func newCurtain(rec Record, ctl Controller, emit emitter) *Curtain {
	return &Curtain{
		rec:  rec,
		ctl:  ctl,
		emit: emit,
		now:  time.Now,
	}
}

// Name returns the entity name.
func (c *Curtain) Name() string { return c.rec.Name }

// Kind returns KindCurtain.
func (c *Curtain) Kind() Kind { return KindCurtain }

// Record returns the directory record the curtain was built from.
func (c *Curtain) Record() Record { return c.rec }

// MAC returns the curtain module MAC.
func (c *Curtain) MAC() string { return c.rec.MAC }

// State returns the current state, including Moving while within
// MovingWindow of the last open, close or position command.
func (c *Curtain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Moving returns MovingOpening or MovingClosing within MovingWindow of the
// last operation, and "" otherwise.
func (c *Curtain) Moving() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.movingLocked()
}

// Open fully opens the curtain.
func (c *Curtain) Open(ctx context.Context) error {
	return c.apply(ctx, yunmao.PositionOpen, MovingOpening, func() error {
		return c.ctl.SetWindow(ctx, c.rec.MAC, yunmao.WindowOpen)
	})
}

// Close fully closes the curtain.
func (c *Curtain) Close(ctx context.Context) error {
	return c.apply(ctx, yunmao.PositionClosed, MovingClosing, func() error {
		return c.ctl.SetWindow(ctx, c.rec.MAC, yunmao.WindowClose)
	})
}

// Stop halts the motor. The gateway reports a stopped curtain at the
// midpoint, so the state becomes open at 50.
func (c *Curtain) Stop(ctx context.Context) error {
	return c.apply(ctx, yunmao.PositionStopped, "", func() error {
		return c.ctl.SetWindow(ctx, c.rec.MAC, yunmao.WindowStop)
	})
}

// SetPosition moves the curtain to a level in 0..100.
func (c *Curtain) SetPosition(ctx context.Context, position int) error {
	if position < yunmao.PositionClosed || position > yunmao.PositionOpen {
		return fmt.Errorf("%w: position %d out of range 0..100", ErrInvalidCommand, position)
	}

	c.mu.Lock()
	direction := MovingOpening
	if c.known && position < c.position {
		direction = MovingClosing
	}
	c.mu.Unlock()

	return c.apply(ctx, position, direction, func() error {
		if err := c.ctl.SetLevel(ctx, c.rec.MAC, position); err != nil {
			return err
		}
		c.mu.Lock()
		c.level = position > yunmao.PositionClosed && position < yunmao.PositionOpen
		c.mu.Unlock()
		return nil
	})
}

// Execute runs an open, close, stop or position command.
func (c *Curtain) Execute(ctx context.Context, cmd Command) error {
	switch cmd.Command {
	case CommandOpen:
		return c.Open(ctx)
	case CommandClose:
		return c.Close(ctx)
	case CommandStop:
		return c.Stop(ctx)
	case CommandPosition:
		if cmd.Position == nil {
			return fmt.Errorf("%w: position command needs a position", ErrInvalidCommand)
		}
		return c.SetPosition(ctx, *cmd.Position)
	default:
		return fmt.Errorf("%w: curtain %q does not support %q", ErrInvalidCommand, c.rec.Name, cmd.Command)
	}
}

// apply sets the target state optimistically and sends the command. The
// cache is re-read MovingWindow later, or at once if the gateway could not
// be reached.
func (c *Curtain) apply(ctx context.Context, position int, direction string, send func() error) error {
	c.mu.Lock()
	prevKnown, prevClosed, prevPos := c.known, c.closed, c.position
	prevMoving, prevOp, prevUpdated, prevLevel := c.moving, c.lastOp, c.updatedAt, c.level
	now := c.now()
	c.known = true
	c.closed = position == yunmao.PositionClosed
	c.position = position
	c.moving = direction
	c.level = false
	if direction != "" {
		c.lastOp = now
	} else {
		c.lastOp = time.Time{}
	}
	c.updatedAt = now
	c.cmdAt = now
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(MovingWindow, c.reconcile)
	state := c.stateLocked()
	c.mu.Unlock()

	c.notify(state, SourceCommand)

	err := send()
	if err == nil {
		return nil
	}

	if errors.Is(err, yunmao.ErrCommand) {
		c.mu.Lock()
		c.known, c.closed, c.position = prevKnown, prevClosed, prevPos
		c.moving, c.lastOp, c.updatedAt, c.level = prevMoving, prevOp, prevUpdated, prevLevel
		c.cmdAt = time.Time{}
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		state = c.stateLocked()
		c.mu.Unlock()

		c.notify(state, SourceRevert)
		c.resync()
	}
	return fmt.Errorf("curtain %q: %w", c.rec.Name, err)
}

// observe handles a translated WIN value from the cache.
func (c *Curtain) observe(ws yunmao.WindowState) {
	c.mu.Lock()
	if c.level && !ws.Closed && !c.closed {
		c.mu.Unlock()
		return
	}
	if c.known && c.closed == ws.Closed && c.position == ws.Position {
		c.mu.Unlock()
		return
	}
	c.known = true
	c.closed = ws.Closed
	c.position = ws.Position
	c.level = false
	c.updatedAt = c.now()
	state := c.stateLocked()
	c.mu.Unlock()

	c.notify(state, SourceGateway)
}

// reconcile runs MovingWindow after a command and re-reads the cache, so a
// gateway that kept reporting the old WIN value overrides the target.
func (c *Curtain) reconcile() {
	c.mu.Lock()
	if !c.cmdAt.IsZero() && c.now().Sub(c.cmdAt) < MovingWindow {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.resync()
}

func (c *Curtain) resync() {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		c.ctl.Resync(sub)
	}
}

func (c *Curtain) attach(sub *yunmao.Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

func (c *Curtain) movingLocked() string {
	if c.lastOp.IsZero() || c.now().Sub(c.lastOp) > MovingWindow {
		return ""
	}
	return c.moving
}

func (c *Curtain) stateLocked() State {
	s := State{UpdatedAt: c.updatedAt}
	if c.known {
		s.Closed = boolPtr(c.closed)
		s.Position = intPtr(c.position)
		s.Moving = c.movingLocked()
	}
	return s
}

func (c *Curtain) notify(state State, source Source) {
	if c.emit == nil {
		return
	}
	c.emit(Event{
		Device: c.rec.Name,
		Kind:   KindCurtain,
		State:  state,
		Source: source,
		Time:   c.now(),
	})
}
