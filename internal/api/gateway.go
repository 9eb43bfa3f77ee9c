package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
	"github.com/nerrad567/yunmao-bridge/internal/device"
)

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 2 * time.Second

// Health status values.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusDown     = "down"
	statusDisabled = "disabled"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// GatewayStatsResponse is returned by GET /gateway/stats.
type GatewayStatsResponse struct {
	Engine    yunmao.Stats `json:"engine"`
	Devices   device.Stats `json:"devices"`
	WSClients int          `json:"ws_clients"`
}

// handleHealth reports engine and dependency health.
//
// The engine is mandatory: if it is not running the response is 503. A
// failing database or MQTT broker only degrades the status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     statusOK,
		Version:    s.version,
		Components: make(map[string]string, 3),
	}

	resp.Components["gateway"] = probe(r.Context(), s.gateway)
	resp.Components["database"] = probe(r.Context(), s.db)
	resp.Components["mqtt"] = probe(r.Context(), s.mqtt)

	status := http.StatusOK
	if resp.Components["gateway"] != statusOK {
		resp.Status = statusDown
		status = http.StatusServiceUnavailable
	} else if resp.Components["database"] == statusDown || resp.Components["mqtt"] == statusDown {
		resp.Status = statusDegraded
	}

	writeJSON(w, status, resp)
}

func probe(ctx context.Context, hc HealthChecker) string {
	if hc == nil {
		return statusDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := hc.HealthCheck(ctx); err != nil {
		return statusDown
	}
	return statusOK
}

// handleGatewaySnapshot returns the raw attribute cache for the gateway,
// keyed by module MAC.
func (s *Server) handleGatewaySnapshot(w http.ResponseWriter, _ *http.Request) {
	snap := s.gateway.Snapshot()
	if snap == nil {
		snap = yunmao.AttributeSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gateway": s.gateway.Stats().Gateway,
		"modules": snap,
		"count":   len(snap),
	})
}

// handleGatewayStats returns engine, registry and WebSocket counters.
func (s *Server) handleGatewayStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, GatewayStatsResponse{
		Engine:    s.gateway.Stats(),
		Devices:   s.registry.Stats(),
		WSClients: s.hub.ClientCount(),
	})
}

// initialEvents replays known entity states to a new WebSocket subscriber.
func (s *Server) initialEvents(channel string) []any {
	if channel != ChannelStateChanged {
		return nil
	}
	var events []any
	for _, e := range s.registry.List() {
		st := e.State()
		if !st.Known() {
			continue
		}
		events = append(events, device.Event{
			Device: e.Name(),
			Kind:   e.Kind(),
			State:  st,
			Source: device.SourceGateway,
			Time:   st.UpdatedAt,
		})
	}
	return events
}
