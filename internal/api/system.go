package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemResponse is returned by GET /system.
type SystemResponse struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Gateway       GatewayMetrics `json:"gateway"`
	Devices       DeviceMetrics  `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// GatewayMetrics summarises the state-sync engine.
type GatewayMetrics struct {
	Address        string `json:"address"`
	Running        bool   `json:"running"`
	PollingActive  bool   `json:"polling_active"`
	PushConnected  int64  `json:"push_connections_active"`
	PushFrames     uint64 `json:"push_frames_received"`
	PollsOK        uint64 `json:"polls_ok"`
	PollsFailed    uint64 `json:"polls_failed"`
	CommandsSent   uint64 `json:"commands_sent"`
	CommandsFailed uint64 `json:"commands_failed"`
	LastPush       string `json:"last_push,omitempty"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total    int `json:"total"`
	Lights   int `json:"lights"`
	Curtains int `json:"curtains"`
	Known    int `json:"known"`
}

// handleSystem returns a one-page overview of the running process.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	engine := s.gateway.Stats()
	devices := s.registry.Stats()

	resp := SystemResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		MQTT: MQTTMetrics{
			Enabled:   s.mqtt != nil,
			Connected: probe(r.Context(), s.mqtt) == statusOK,
		},
		Gateway: GatewayMetrics{
			Address:        engine.Gateway,
			Running:        engine.Running,
			PollingActive:  engine.PollingActive,
			PushConnected:  engine.Listener.ActiveConnections,
			PushFrames:     engine.Listener.FramesReceived,
			PollsOK:        engine.Poller.PollsOK,
			PollsFailed:    engine.Poller.PollsFailed,
			CommandsSent:   engine.CommandsSent,
			CommandsFailed: engine.CommandsFail,
		},
		Devices: DeviceMetrics{
			Total:    devices.Total,
			Lights:   devices.Lights,
			Curtains: devices.Curtains,
			Known:    devices.Known,
		},
	}
	if !engine.LastPush.IsZero() {
		resp.Gateway.LastPush = engine.LastPush.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}
