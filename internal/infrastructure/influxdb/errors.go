package influxdb

import "errors"

// Errors returned by Connect and HealthCheck, or passed to the SetOnError
// callback.
var (
	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed means the start-up ping failed or the server
	// reported itself unhealthy.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps a rejected device_state or gateway_stats batch.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// serve checks the flag first and never sees it.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
