// Package device exposes Yunmao module circuits as lights and curtains.
//
// A Record from the device directory names one entity and the gateway
// module keys it drives. The Registry builds a Light or Curtain for each
// record, subscribes it to the gateway state cache and fans out state
// changes to listeners such as the MQTT bridge, the WebSocket hub and the
// InfluxDB sink.
//
// # Entities
//
// Lights may be paired: a second (mac, position) key is switched together
// with the first, and an observed update from either key sets the light's
// state. Both keys are always attempted and failures are joined.
//
// Commands are applied optimistically. If the gateway cannot be reached on
// any key the previous state is restored and a revert event is emitted. After
// a local light command, observed updates are ignored for HoldOff so a stale
// poll cannot flip the light back; when it ends the light asks the cache to
// redeliver the primary key's current value, even if unchanged. Curtains
// report Moving for MovingWindow after an open, close or position command
// and resync the same way once it has passed. A curtain holding a LEV target
// keeps it while the gateway reports open or stopped.
//
// Every Execute on a known device is reported to OnCommand listeners as a
// CommandResult, tagged with the origin set by WithOrigin. The command log
// and the WebSocket device.command channel are fed this way.
//
// # Directory
//
// Records are stored in SQLite (table devices). Seed inserts records from
// the configuration file, skipping any whose (mac, position) is already
// configured.
//
// # Thread Safety
//
// Entities and the Registry are safe for concurrent use. Listener callbacks
// run on the goroutine that produced the change and must not block.
package device
