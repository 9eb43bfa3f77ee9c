package yunmao

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Protocol contract values. Changing any of these requires a matching
// gateway-side change.
const (
	// CommandPort is the gateway port that accepts cmd and query requests.
	CommandPort = 8888

	// PushPort is the local port the gateway connects to for updates.
	PushPort = 21688

	// CommandSerial is the fixed serialNum carried by every cmd request.
	CommandSerial = "210431"

	// QueryAllID is the reserved id that asks for every device.
	QueryAllID = "0000000000000000"
)

// Request types.
const (
	RequestTypeCommand = "cmd"
	RequestTypeQuery   = "query"
	RequestTypeUpdate  = "update"
)

// Attribute names and values.
const (
	// AttrSwitch is the packed switch bitfield.
	AttrSwitch = "SWI"

	// AttrWindow is the curtain state (OPEN, CLOSE or STOP).
	AttrWindow = "WIN"

	// AttrLevel is the curtain position, 0..100.
	AttrLevel = "LEV"

	// AttrMAC repeats the device identifier inside push attributes.
	AttrMAC = "MAC"

	SwitchOn  = "ON"
	SwitchOff = "OFF"

	WindowOpen  = "OPEN"
	WindowClose = "CLOSE"
	WindowStop  = "STOP"
)

// Curtain positions reported for each WIN state.
const (
	PositionClosed  = 0
	PositionStopped = 50
	PositionOpen    = 100
)

// request is the wire form of cmd and query requests.
// Field order is part of the wire contract.
type request struct {
	SourceID    string            `json:"sourceId"`
	SerialNum   string            `json:"serialNum"`
	RequestType string            `json:"requestType"`
	ID          string            `json:"id"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// PushFrame is one newline-delimited notification from the gateway.
//
// Example:
//
//	{"sourceId":"FFFF301B977B24F4","req":"heart","requestType":"update","serialNum":12,
//	 "attributes":{"SWI":"0x05","MAC":"FFFF301B977B24F4","TYP":"SW-KY2"},"id":"FFFF301B977B24F4"}
type PushFrame struct {
	SourceID    string          `json:"sourceId"`
	Req         string          `json:"req,omitempty"`
	RequestType string          `json:"requestType"`
	SerialNum   json.RawMessage `json:"serialNum,omitempty"`
	ID          string          `json:"id"`
	Attributes  map[string]any  `json:"attributes"`
}

// QueryResponse is the gateway's reply to a query request.
type QueryResponse struct {
	Attributes map[string]map[string]any `json:"attributes"`
}

// EncodeCommand builds a cmd request for a single attribute.
//
// The output has no trailing newline:
//
//	{"sourceId":"<ip>","serialNum":"210431","requestType":"cmd","id":"<mac>","attributes":{"<attr>":"<value>"}}
func EncodeCommand(gatewayAddr, mac, attr, value string) ([]byte, error) {
	if mac == "" || attr == "" {
		return nil, fmt.Errorf("%w: mac and attribute are required", ErrCommand)
	}
	return json.Marshal(request{
		SourceID:    gatewayAddr,
		SerialNum:   CommandSerial,
		RequestType: RequestTypeCommand,
		ID:          mac,
		Attributes:  map[string]string{attr: value},
	})
}

// EncodeQuery builds a query request for every device on the gateway.
func EncodeQuery(gatewayAddr string) ([]byte, error) {
	return json.Marshal(request{
		SourceID:    gatewayAddr,
		SerialNum:   gatewayAddr,
		RequestType: RequestTypeQuery,
		ID:          QueryAllID,
	})
}

// Actionable reports whether the frame carries a state update.
func (f *PushFrame) Actionable() bool {
	return f.RequestType == RequestTypeUpdate && len(f.Attributes) > 0 && f.DeviceMAC() != ""
}

// DeviceMAC returns the device the frame concerns.
// Frames without an id fall back to the MAC attribute.
func (f *PushFrame) DeviceMAC() string {
	if f.ID != "" {
		return f.ID
	}
	if mac, ok := f.Attributes[AttrMAC].(string); ok {
		return mac
	}
	return ""
}

// AttributeStrings returns the frame attributes as strings.
func (f *PushFrame) AttributeStrings() map[string]string {
	return stringifyAttributes(f.Attributes)
}

// Snapshot converts the response into an AttributeSnapshot.
func (r *QueryResponse) Snapshot() AttributeSnapshot {
	snap := make(AttributeSnapshot, len(r.Attributes))
	for mac, attrs := range r.Attributes {
		snap[mac] = stringifyAttributes(attrs)
	}
	return snap
}

// stringifyAttributes flattens JSON attribute values to strings.
// Null values are dropped.
func stringifyAttributes(attrs map[string]any) map[string]string {
	out := make(map[string]string, len(attrs))
	for name, raw := range attrs {
		switch v := raw.(type) {
		case nil:
			continue
		case string:
			out[name] = v
		case float64:
			out[name] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[name] = strconv.FormatBool(v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[name] = string(b)
		}
	}
	return out
}

// translateWindow maps a WIN value to a curtain state.
func translateWindow(value string) (WindowState, bool) {
	switch value {
	case WindowClose:
		return WindowState{Closed: true, Position: PositionClosed}, true
	case WindowOpen:
		return WindowState{Closed: false, Position: PositionOpen}, true
	case WindowStop:
		return WindowState{Closed: false, Position: PositionStopped}, true
	default:
		return WindowState{}, false
	}
}
