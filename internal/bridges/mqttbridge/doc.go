// Package mqttbridge mirrors Yunmao device state to MQTT and accepts
// commands from it.
//
// Topics (prefix yunmao):
//
//	yunmao/state/<device>    retained JSON state, published on every change
//	yunmao/command/<device>  {"id":"...","command":"on|off|open|close|stop|position","position":n}
//	yunmao/ack/<device>      {"command_id":"...","status":"accepted|failed",...}
//	yunmao/system/status     retained online/offline with Last Will
//
// The system status topic is owned by the MQTT client; this package only
// handles device topics.
package mqttbridge
