package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/yunmao-bridge/internal/device"
)

const writeTimeout = 2 * time.Second

// Logger is the logging surface the Recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder turns device command results into command log entries.
// Register Record with device.Registry.OnCommand.
type Recorder struct {
	repo    Repository
	logger  Logger
	written atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder creates a Recorder writing to repo. A nil logger discards
// write failures.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record stores res. Failures to write are logged, never returned: the
// command has already gone to the gateway.
func (r *Recorder) Record(res device.CommandResult) {
	entry := Entry{
		Device:    res.Device,
		Kind:      string(res.Kind),
		Command:   res.Command,
		Position:  res.Position,
		Origin:    res.Origin,
		Result:    ResultOK,
		CreatedAt: res.Time,
	}
	if res.Err != nil {
		entry.Result = ResultFailed
		entry.Error = res.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, &entry); err != nil {
		r.failed.Add(1)
		r.logger.Warn("command log write failed", "device", res.Device, "command", res.Command, "error", err)
		return
	}
	r.written.Add(1)
}

// Counts returns the number of entries written and the number of failed
// writes.
func (r *Recorder) Counts() (written, failed uint64) {
	return r.written.Load(), r.failed.Load()
}
