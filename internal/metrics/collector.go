package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
	"github.com/nerrad567/yunmao-bridge/internal/device"
)

const namespace = "yunmao"

// EngineSource provides engine counters. *yunmao.Engine satisfies it.
type EngineSource interface {
	Stats() yunmao.Stats
}

// DeviceSource lists entities. *device.Registry satisfies it.
type DeviceSource interface {
	List() []device.Entity
}

// Collector implements prometheus.Collector for the Yunmao bridge.
type Collector struct {
	engine  EngineSource
	devices DeviceSource

	running          *prometheus.Desc
	connections      *prometheus.Desc
	connectionsOpen  *prometheus.Desc
	framesReceived   *prometheus.Desc
	frames           *prometheus.Desc
	polls            *prometheus.Desc
	pollingActive    *prometheus.Desc
	lastPollSuccess  *prometheus.Desc
	lastPush         *prometheus.Desc
	commands         *prometheus.Desc
	notifications    *prometheus.Desc
	decodeErrors     *prometheus.Desc
	subscriptions    *prometheus.Desc
	deviceOn         *prometheus.Desc
	devicePosition   *prometheus.Desc
	deviceStateKnown *prometheus.Desc
}

// NewCollector creates a Collector. devices may be nil.
func NewCollector(engine EngineSource, devices DeviceSource) *Collector {
	gw := []string{"gateway"}
	dev := []string{"device", "kind"}

	return &Collector{
		engine:  engine,
		devices: devices,

		running: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "engine_running"),
			"Whether the gateway engine is running (1) or not (0)",
			gw, nil,
		),
		connections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "push", "connections_total"),
			"Push connections accepted from the gateway",
			gw, nil,
		),
		connectionsOpen: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "push", "connections_active"),
			"Push connections currently open",
			gw, nil,
		),
		framesReceived: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "push", "frames_received_total"),
			"Push lines received, before framing and JSON checks",
			gw, nil,
		),
		frames: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "push", "frames_total"),
			"Push frames by outcome",
			[]string{"gateway", "result"}, nil,
		),
		polls: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "poll", "total"),
			"Poll ticks by outcome",
			[]string{"gateway", "result"}, nil,
		),
		pollingActive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "poll", "active"),
			"Whether the poller would query the gateway on its next tick",
			gw, nil,
		),
		lastPollSuccess: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "poll", "last_success_timestamp_seconds"),
			"Unix time of the last successful poll",
			gw, nil,
		),
		lastPush: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "push", "last_update_timestamp_seconds"),
			"Unix time of the last applied push update",
			gw, nil,
		),
		commands: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "commands_total"),
			"Commands sent to the gateway by outcome",
			[]string{"gateway", "result"}, nil,
		),
		notifications: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "notifications_total"),
			"Subscriber notifications delivered",
			nil, nil,
		),
		decodeErrors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "decode_errors_total"),
			"Switch bitfields that could not be decoded",
			nil, nil,
		),
		subscriptions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "subscriptions"),
			"Registered cache subscriptions",
			nil, nil,
		),
		deviceOn: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "on"),
			"Light state (1=on, 0=off); absent until known",
			dev, nil,
		),
		devicePosition: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "position"),
			"Curtain position 0..100; absent until known",
			dev, nil,
		),
		deviceStateKnown: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "state_known"),
			"Whether the device state has been observed or commanded",
			dev, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.running
	ch <- c.connections
	ch <- c.connectionsOpen
	ch <- c.framesReceived
	ch <- c.frames
	ch <- c.polls
	ch <- c.pollingActive
	ch <- c.lastPollSuccess
	ch <- c.lastPush
	ch <- c.commands
	ch <- c.notifications
	ch <- c.decodeErrors
	ch <- c.subscriptions
	ch <- c.deviceOn
	ch <- c.devicePosition
	ch <- c.deviceStateKnown
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.engine.Stats()
	gw := s.Gateway

	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, boolValue(s.Running), gw)

	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.CounterValue, float64(s.Listener.ConnectionsAccepted), gw)
	ch <- prometheus.MustNewConstMetric(c.connectionsOpen, prometheus.GaugeValue, float64(s.Listener.ActiveConnections), gw)
	ch <- prometheus.MustNewConstMetric(c.framesReceived, prometheus.CounterValue, float64(s.Listener.FramesReceived), gw)
	ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(s.Listener.FramesApplied), gw, "applied")
	ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(s.Listener.FramesDropped), gw, "dropped")
	ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(s.Listener.FramesIgnored), gw, "ignored")

	ch <- prometheus.MustNewConstMetric(c.polls, prometheus.CounterValue, float64(s.Poller.PollsOK), gw, "ok")
	ch <- prometheus.MustNewConstMetric(c.polls, prometheus.CounterValue, float64(s.Poller.PollsFailed), gw, "failed")
	ch <- prometheus.MustNewConstMetric(c.polls, prometheus.CounterValue, float64(s.Poller.PollsSkipped), gw, "skipped")
	ch <- prometheus.MustNewConstMetric(c.polls, prometheus.CounterValue, float64(s.Poller.PollsSuppressed), gw, "suppressed")
	ch <- prometheus.MustNewConstMetric(c.pollingActive, prometheus.GaugeValue, boolValue(s.PollingActive), gw)
	if !s.Poller.LastSuccess.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastPollSuccess, prometheus.GaugeValue, float64(s.Poller.LastSuccess.Unix()), gw)
	}
	if !s.LastPush.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastPush, prometheus.GaugeValue, float64(s.LastPush.Unix()), gw)
	}

	ch <- prometheus.MustNewConstMetric(c.commands, prometheus.CounterValue, float64(s.CommandsSent), gw, "sent")
	ch <- prometheus.MustNewConstMetric(c.commands, prometheus.CounterValue, float64(s.CommandsFail), gw, "failed")

	ch <- prometheus.MustNewConstMetric(c.notifications, prometheus.CounterValue, float64(s.Cache.Notifications))
	ch <- prometheus.MustNewConstMetric(c.decodeErrors, prometheus.CounterValue, float64(s.Cache.DecodeErrors))
	ch <- prometheus.MustNewConstMetric(c.subscriptions, prometheus.GaugeValue, float64(s.Cache.Subscriptions))

	if c.devices == nil {
		return
	}
	for _, e := range c.devices.List() {
		name, kind := e.Name(), string(e.Kind())
		state := e.State()
		ch <- prometheus.MustNewConstMetric(c.deviceStateKnown, prometheus.GaugeValue, boolValue(state.Known()), name, kind)
		if state.On != nil {
			ch <- prometheus.MustNewConstMetric(c.deviceOn, prometheus.GaugeValue, boolValue(*state.On), name, kind)
		}
		if state.Position != nil {
			ch <- prometheus.MustNewConstMetric(c.devicePosition, prometheus.GaugeValue, float64(*state.Position), name, kind)
		}
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
