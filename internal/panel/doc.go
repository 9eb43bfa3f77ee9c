// Package panel serves the bridge's status dashboard.
//
// The dashboard is a single static page embedded in the binary. It lists
// devices from /api/v1/devices, sends on/off and curtain commands through
// the REST API and follows device.state_changed events over the WebSocket.
//
// Set api.panel_dir to serve the assets from disk while editing them.
package panel
