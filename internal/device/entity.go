package device

import (
	"context"
	"time"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
)

const (
	// HoldOff is how long observed updates are ignored after a local light
	// command.
	HoldOff = 30 * time.Second

	// MovingWindow is how long a curtain reports Moving after a command.
	MovingWindow = 5 * time.Second
)

// Controller issues gateway commands and manages cache subscriptions.
// *yunmao.Engine satisfies it.
type Controller interface {
	SetSwitch(ctx context.Context, key yunmao.DeviceKey, on bool) error
	SetWindow(ctx context.Context, mac, action string) error
	SetLevel(ctx context.Context, mac string, level int) error
	SubscribeSwitch(key yunmao.DeviceKey, fn func(bool)) *yunmao.Subscription
	SubscribeWindow(mac string, fn func(yunmao.WindowState)) *yunmao.Subscription
	Resync(subs ...*yunmao.Subscription) int
}

// Entity is a light or curtain built from a directory record.
type Entity interface {
	Name() string
	Kind() Kind
	Record() Record
	State() State
	Execute(ctx context.Context, cmd Command) error
}

// emitter is set by the registry to receive state changes.
type emitter func(Event)

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }
