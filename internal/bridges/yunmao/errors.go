package yunmao

import "errors"

// Domain errors for the Yunmao gateway engine.
var (
	// ErrDecode is returned when a switch bitfield cannot be decoded,
	// either because the literal is not an integer or the position is < 1.
	ErrDecode = errors.New("yunmao: bitfield decode failed")

	// ErrCommand is returned when a command could not be delivered to the
	// gateway (timeout, refused, reset). Commands are never retried.
	ErrCommand = errors.New("yunmao: command send failed")

	// ErrQuery is returned when a poll query fails on the network or the
	// response cannot be parsed.
	ErrQuery = errors.New("yunmao: gateway query failed")

	// ErrFrame marks a push line that is not a valid JSON object.
	ErrFrame = errors.New("yunmao: malformed push frame")

	// ErrInvalidPosition is returned for switch positions below 1.
	ErrInvalidPosition = errors.New("yunmao: switch position must be >= 1")

	// ErrInvalidLevel is returned for curtain levels outside 0..100.
	ErrInvalidLevel = errors.New("yunmao: curtain level must be between 0 and 100")

	// ErrInvalidConfig is returned when the engine configuration is incomplete.
	ErrInvalidConfig = errors.New("yunmao: invalid configuration")

	// ErrAlreadyRunning is returned when Run is called on a running engine.
	ErrAlreadyRunning = errors.New("yunmao: engine already running")

	// ErrNotRunning is returned by health checks before Run is called.
	ErrNotRunning = errors.New("yunmao: engine not running")
)
