package main

import (
	"context"
	"time"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
	"github.com/nerrad567/yunmao-bridge/internal/device"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/config"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/influxdb"
)

// defaultStatsInterval applies when influxdb.stats_interval is unset.
const defaultStatsInterval = 60 * time.Second

// statsWriter is the part of *influxdb.Client used for counters.
type statsWriter interface {
	WriteGatewayStats(s influxdb.GatewayStats)
}

// statsSource is the part of *yunmao.Engine used for counters.
type statsSource interface {
	Stats() yunmao.Stats
	Snapshot() yunmao.AttributeSnapshot
}

func statsInterval(cfg config.InfluxDBConfig) time.Duration {
	if cfg.StatsInterval <= 0 {
		return defaultStatsInterval
	}
	return time.Duration(cfg.StatsInterval) * time.Second
}

// deviceStatePoint converts a registry event into an InfluxDB point.
func deviceStatePoint(ev device.Event) influxdb.DeviceState {
	return influxdb.DeviceState{
		Device:   ev.Device,
		Kind:     string(ev.Kind),
		On:       ev.State.On,
		Position: ev.State.Position,
		Closed:   ev.State.Closed,
		Source:   string(ev.Source),
		Time:     ev.Time,
	}
}

// gatewayStatsPoint converts engine counters into an InfluxDB point.
func gatewayStatsPoint(s yunmao.Stats, modules int, now time.Time) influxdb.GatewayStats {
	return influxdb.GatewayStats{
		Gateway:         s.Gateway,
		PushFrames:      s.Listener.FramesReceived,
		PushDropped:     s.Listener.FramesDropped,
		PollsOK:         s.Poller.PollsOK,
		PollsFailed:     s.Poller.PollsFailed,
		PollsSkipped:    s.Poller.PollsSkipped,
		CommandsSent:    s.CommandsSent,
		CommandsFailed:  s.CommandsFail,
		ActivePush:      s.Listener.ActiveConnections,
		PollingActive:   s.PollingActive,
		DecodeErrors:    s.Cache.DecodeErrors,
		Notifications:   s.Cache.Notifications,
		ModulesTracked:  modules,
		SubscriberCount: s.Cache.Subscriptions,
		Time:            now,
	}
}

// recordStats writes engine counters every interval until ctx is done.
func recordStats(ctx context.Context, src statsSource, w statsWriter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.WriteGatewayStats(gatewayStatsPoint(src.Stats(), len(src.Snapshot()), now))
		}
	}
}
