package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/yunmao-bridge/internal/audit"
)

// CommandLog is the read side of the command log. *audit.SQLiteRepository
// satisfies it.
type CommandLog interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// handleListCommands returns the command log, most recent first.
//
// Query parameters:
//   - device: one device name
//   - result: ok or failed
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	s.listCommands(w, r, r.URL.Query().Get("device"))
}

// handleDeviceCommands returns the command log of one device.
func (s *Server) handleDeviceCommands(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.registry.Get(name); err != nil {
		writeNotFound(w, "device not found")
		return
	}
	s.listCommands(w, r, name)
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request, name string) {
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Device: name,
		Result: q.Get("result"),
	}
	if filter.Result != "" && filter.Result != audit.ResultOK && filter.Result != audit.ResultFailed {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "result must be ok or failed")
		return
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.commands.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command log", "error", err)
		writeInternalError(w, "failed to list command log")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
