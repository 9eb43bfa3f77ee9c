package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDeviceState  = "device_state"
	MeasurementGatewayStats = "gateway_stats"
)

// DeviceState is one observed or commanded device state change.
// Nil fields are omitted from the point.
type DeviceState struct {
	Device   string
	Kind     string
	On       *bool
	Position *int
	Closed   *bool
	Source   string // "gateway", "command" or "revert"
	Time     time.Time
}

// GatewayStats is a snapshot of the engine counters.
type GatewayStats struct {
	Gateway         string
	PushFrames      uint64
	PushDropped     uint64
	PollsOK         uint64
	PollsFailed     uint64
	PollsSkipped    uint64
	CommandsSent    uint64
	CommandsFailed  uint64
	ActivePush      int64
	PollingActive   bool
	DecodeErrors    uint64
	Notifications   uint64
	ModulesTracked  int
	SubscriberCount int
	Time            time.Time
}

// WriteDeviceState records a device state change. Non-blocking.
func (c *Client) WriteDeviceState(s DeviceState) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(deviceStatePoint(s))
}

// WriteGatewayStats records engine counters. Non-blocking.
func (c *Client) WriteGatewayStats(s GatewayStats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(gatewayStatsPoint(s))
}

func deviceStatePoint(s DeviceState) *write.Point {
	tags := map[string]string{
		"device": s.Device,
		"kind":   s.Kind,
	}
	if s.Source != "" {
		tags["source"] = s.Source
	}

	fields := make(map[string]any, 3)
	if s.On != nil {
		fields["on"] = *s.On
	}
	if s.Position != nil {
		fields["position"] = *s.Position
	}
	if s.Closed != nil {
		fields["closed"] = *s.Closed
	}

	return write.NewPoint(MeasurementDeviceState, tags, fields, timeOrNow(s.Time))
}

func gatewayStatsPoint(s GatewayStats) *write.Point {
	return write.NewPoint(
		MeasurementGatewayStats,
		map[string]string{"gateway": s.Gateway},
		map[string]any{
			"push_frames":     s.PushFrames,
			"push_dropped":    s.PushDropped,
			"polls_ok":        s.PollsOK,
			"polls_failed":    s.PollsFailed,
			"polls_skipped":   s.PollsSkipped,
			"commands_sent":   s.CommandsSent,
			"commands_failed": s.CommandsFailed,
			"push_conns":      s.ActivePush,
			"polling_active":  s.PollingActive,
			"decode_errors":   s.DecodeErrors,
			"notifications":   s.Notifications,
			"modules":         s.ModulesTracked,
			"subscribers":     s.SubscriberCount,
		},
		timeOrNow(s.Time),
	)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
