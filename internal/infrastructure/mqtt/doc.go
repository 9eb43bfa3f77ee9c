// Package mqtt provides MQTT client connectivity for the Yunmao bridge.
//
// The bridge mirrors device state to a broker so home automation
// controllers can observe and drive Yunmao modules without speaking the
// gateway protocol:
//
//	Yunmao gateway ↔ bridge ↔ MQTT broker ↔ controllers
//
// The client handles auto-reconnect with subscription restore, a retained
// online/offline status on yunmao/system/status with a Last Will, and
// size/QoS validation on publish.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishRetained(mqtt.Topics{}.State("hall-light"), payload)
package mqtt
