package mqttbridge

import (
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/yunmao-bridge/internal/device"
)

// CommandMessage is the payload of yunmao/command/<device>.
type CommandMessage struct {
	// ID correlates the acknowledgement. Generated when empty.
	ID       string `json:"id,omitempty"`
	Command  string `json:"command"`
	Position *int   `json:"position,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted means the gateway accepted the command connection.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected or could not be delivered.
	AckFailed AckStatus = "failed"
)

// AckMessage is published to yunmao/ack/<device>.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Device    string    `json:"device"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMessage is the retained payload of yunmao/state/<device>.
type StateMessage struct {
	Device    string       `json:"device"`
	Kind      device.Kind  `json:"kind"`
	State     device.State `json:"state"`
	Source    string       `json:"source"`
	Timestamp time.Time    `json:"timestamp"`
}

func newStateMessage(ev device.Event) StateMessage {
	return StateMessage{
		Device:    ev.Device,
		Kind:      ev.Kind,
		State:     ev.State,
		Source:    string(ev.Source),
		Timestamp: ev.Time.UTC(),
	}
}

func newAck(cmd CommandMessage, name string, err error) AckMessage {
	ack := AckMessage{
		CommandID: cmd.ID,
		Device:    name,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Timestamp: time.Now().UTC(),
	}
	if ack.CommandID == "" {
		ack.CommandID = uuid.NewString()
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = err.Error()
	}
	return ack
}
