package mqtt

import "errors"

// Errors returned by Client. The MQTT bridge treats ErrNotConnected as
// transient: state publishes are dropped and the retained topic is
// refreshed on the next change after a reconnect.
var (
	// ErrNotConnected means the broker link is down, either before the
	// first connect or while paho is reconnecting.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed means Connect could not reach the broker at
	// start-up. serve exits with it rather than running without MQTT.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps broker rejections, acknowledgement timeouts
	// and oversized state or ack payloads.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps failures to subscribe to the command topics.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS rejects a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
