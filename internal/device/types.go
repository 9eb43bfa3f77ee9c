package device

import (
	"time"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/config"
)

// Kind is the entity type of a directory record.
type Kind string

const (
	KindLight   Kind = "light"
	KindCurtain Kind = "curtain"
)

// Record is one entry of the device directory.
type Record struct {
	ID        int64     `json:"id,omitempty"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	MAC       string    `json:"mac"`
	Position  int       `json:"position,omitempty"`
	MAC2      string    `json:"mac2,omitempty"`
	Position2 int       `json:"position2,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordFromConfig converts a configured device to a directory record.
func RecordFromConfig(dc config.DeviceConfig) Record {
	return Record{
		Name:      dc.Name,
		Kind:      Kind(dc.Kind),
		MAC:       dc.MAC,
		Position:  dc.Position,
		MAC2:      dc.MAC2,
		Position2: dc.Position2,
	}
}

// Keys returns the switch keys a light record drives, primary first.
// Curtains have no switch keys.
func (r Record) Keys() []yunmao.DeviceKey {
	if r.Kind != KindLight {
		return nil
	}
	keys := []yunmao.DeviceKey{{MAC: r.MAC, Position: r.Position}}
	if r.MAC2 != "" {
		keys = append(keys, yunmao.DeviceKey{MAC: r.MAC2, Position: r.Position2})
	}
	return keys
}

// Source says where a state change came from.
type Source string

const (
	SourceGateway Source = "gateway"
	SourceCommand Source = "command"
	SourceRevert  Source = "revert"
)

// Moving directions reported by curtains.
const (
	MovingOpening = "opening"
	MovingClosing = "closing"
)

// State is the externally visible state of an entity. Fields that do not
// apply to the entity's kind, or that are not known yet, are nil.
type State struct {
	On        *bool     `json:"on,omitempty"`
	Position  *int      `json:"position,omitempty"`
	Closed    *bool     `json:"closed,omitempty"`
	Moving    string    `json:"moving,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Known reports whether any state has been observed or commanded.
func (s State) Known() bool {
	return s.On != nil || s.Position != nil
}

// Event is delivered to registry listeners on every state change.
type Event struct {
	Device string    `json:"device"`
	Kind   Kind      `json:"kind"`
	State  State     `json:"state"`
	Source Source    `json:"source"`
	Time   time.Time `json:"time"`
}

// Command names accepted by Entity.Execute.
const (
	CommandOn       = "on"
	CommandOff      = "off"
	CommandOpen     = "open"
	CommandClose    = "close"
	CommandStop     = "stop"
	CommandPosition = "position"
)

// Command is an operation requested over MQTT or HTTP.
type Command struct {
	Command  string `json:"command"`
	Position *int   `json:"position,omitempty"`
}
