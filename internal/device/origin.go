package device

import (
	"context"
	"time"
)

// Command origins.
const (
	OriginAPI  = "api"
	OriginMQTT = "mqtt"
)

type originKey struct{}

// WithOrigin tags ctx with the interface a command arrived on.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin set by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string) //nolint:errcheck // missing value yields ""
	return origin
}

// CommandResult is delivered to OnCommand listeners after every Execute on
// a known device. Err is nil when the gateway accepted the command.
type CommandResult struct {
	Device   string
	Kind     Kind
	Command  string
	Position *int
	Origin   string
	Err      error
	Time     time.Time
}
