package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the bridge uses.
const TopicPrefix = "yunmao"

// Topics provides builders for the bridge's MQTT topics.
//
//	yunmao/state/<device>     retained device state
//	yunmao/command/<device>   inbound commands
//	yunmao/ack/<device>       command results
//	yunmao/system/status      retained online/offline status (LWT)
type Topics struct{}

// State returns the retained state topic for a device.
//
// Example: yunmao/state/hall-light
func (Topics) State(device string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, device)
}

// Command returns the command topic for a device.
func (Topics) Command(device string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, device)
}

// Ack returns the command acknowledgement topic for a device.
func (Topics) Ack(device string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, device)
}

// AllCommands returns the wildcard matching every device command topic.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

// SystemStatus returns the bridge online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// DeviceFromTopic extracts the device name from a state, command or ack
// topic. It returns "" for any other topic.
func (Topics) DeviceFromTopic(topic string) string {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/")
	if !ok {
		return ""
	}
	for _, kind := range []string{"state/", "command/", "ack/"} {
		if device, ok := strings.CutPrefix(rest, kind); ok {
			if device == "" || strings.Contains(device, "/") {
				return ""
			}
			return device
		}
	}
	return ""
}
