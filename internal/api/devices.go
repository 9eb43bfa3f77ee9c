package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/yunmao-bridge/internal/device"
)

// DeviceResponse is the JSON view of one entity.
type DeviceResponse struct {
	Name      string       `json:"name"`
	Kind      device.Kind  `json:"kind"`
	MAC       string       `json:"mac"`
	Position  int          `json:"position,omitempty"`
	MAC2      string       `json:"mac2,omitempty"`
	Position2 int          `json:"position2,omitempty"`
	State     device.State `json:"state"`
}

func newDeviceResponse(e device.Entity) DeviceResponse {
	rec := e.Record()
	return DeviceResponse{
		Name:      rec.Name,
		Kind:      rec.Kind,
		MAC:       rec.MAC,
		Position:  rec.Position,
		MAC2:      rec.MAC2,
		Position2: rec.Position2,
		State:     e.State(),
	}
}

// handleListDevices returns every entity with its current state.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	kind := device.Kind(r.URL.Query().Get("kind"))

	entities := s.registry.List()
	devices := make([]DeviceResponse, 0, len(entities))
	for _, e := range entities {
		if kind != "" && e.Kind() != kind {
			continue
		}
		devices = append(devices, newDeviceResponse(e))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one entity.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	e, err := s.registry.Get(name)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, newDeviceResponse(e))
}

// handleDeviceCommand executes a command and returns the resulting state.
//
// Status codes:
//   - 202: command delivered to the gateway
//   - 400: malformed body or unsupported command
//   - 404: unknown device
//   - 502: gateway unreachable on at least one key
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var cmd device.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if cmd.Command == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "command is required")
		return
	}

	if err := s.registry.Execute(device.WithOrigin(r.Context(), device.OriginAPI), name, cmd); err != nil {
		writeCommandError(w, err)
		return
	}

	e, err := s.registry.Get(name)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusAccepted, newDeviceResponse(e))
}
