// Package api implements the HTTP REST API and WebSocket server for the
// Yunmao bridge.
//
// This package provides:
//   - REST endpoints to list devices, read their state and send commands
//   - Read-only views of the gateway snapshot and engine counters
//   - Command log queries
//   - WebSocket hub publishing device.state_changed and device.command events
//   - Prometheus scrape endpoint
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/devices
//	GET  /api/v1/devices/{name}
//	POST /api/v1/devices/{name}/commands
//	GET  /api/v1/devices/{name}/commands
//	GET  /api/v1/commands
//	GET  /api/v1/gateway/snapshot
//	GET  /api/v1/gateway/stats
//	GET  /api/v1/system
//	GET  /api/v1/ws
//	GET  /api/v1/metrics
//	GET  /*              (dashboard, when configured)
//
// Command POSTs must be sent as application/json.
//
// # Graceful Degradation
//
// MQTT, the database, the Prometheus gatherer and the dashboard are
// optional. A missing dependency is reported as "disabled" by /health.
//
// The API has no authentication and is meant for the local network only.
package api
