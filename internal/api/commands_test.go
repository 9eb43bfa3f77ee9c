package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/nerrad567/yunmao-bridge/internal/audit"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/config"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/database"
	"github.com/nerrad567/yunmao-bridge/migrations"
)

// commandLogServer returns a server whose registry records commands into
// an in-memory SQLite command log.
func commandLogServer(t *testing.T) (*Server, *fakeGateway) {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := audit.NewSQLiteRepository(db.DB)
	gw := newFakeGateway()
	deps := testDeps(gw)
	deps.Commands = repo
	deps.Registry.OnCommand(audit.NewRecorder(repo, nil).Record)
	return newTestServer(t, deps), gw
}

func TestListCommands(t *testing.T) {
	srv, gw := commandLogServer(t)

	serve(srv, http.MethodPost, "/api/v1/devices/kitchen/commands", `{"command":"on"}`)
	gw.setFail(true)
	serve(srv, http.MethodPost, "/api/v1/devices/lounge-curtain/commands", `{"command":"position","position":40}`)

	w := serve(srv, http.MethodGet, "/api/v1/commands", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp audit.ListResult
	decodeBody(t, w, &resp)
	if resp.Total != 2 || len(resp.Entries) != 2 {
		t.Fatalf("total = %d entries = %d, want 2", resp.Total, len(resp.Entries))
	}
	latest := resp.Entries[0]
	if latest.Device != "lounge-curtain" || latest.Result != audit.ResultFailed || latest.Origin != "api" {
		t.Errorf("entries[0] = %+v", latest)
	}
	if latest.Position == nil || *latest.Position != 40 || latest.Error == "" {
		t.Errorf("entries[0] position/error = %v/%q", latest.Position, latest.Error)
	}

	tests := []struct {
		path      string
		wantTotal int
	}{
		{"/api/v1/commands?result=ok", 1},
		{"/api/v1/commands?device=kitchen", 1},
		{"/api/v1/commands?limit=1", 2},
		{"/api/v1/devices/lounge-curtain/commands", 1},
		{"/api/v1/devices/lounge-curtain/commands?result=ok", 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := serve(srv, http.MethodGet, tt.path, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var resp audit.ListResult
			decodeBody(t, w, &resp)
			if resp.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", resp.Total, tt.wantTotal)
			}
		})
	}
}

func TestListCommands_Errors(t *testing.T) {
	srv, _ := commandLogServer(t)
	plain, _ := testServer(t)

	tests := []struct {
		name       string
		srv        *Server
		path       string
		wantStatus int
	}{
		{"bad result filter", srv, "/api/v1/commands?result=maybe", http.StatusBadRequest},
		{"unknown device", srv, "/api/v1/devices/attic/commands", http.StatusNotFound},
		{"log not configured", plain, "/api/v1/commands", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := serve(tt.srv, http.MethodGet, tt.path, ""); w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}
