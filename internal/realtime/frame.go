// ABOUTME: Event-tagged JSON frame exchanged with devices over the socket.
// ABOUTME: Event names for the greeting, inbound messages and relayed payloads.

package realtime

import "encoding/json"

// Event names.
const (
	EventHello   = "hello"
	EventMessage = "message"
)

// Greeting is the data sent with the hello event on connect.
const Greeting = "from server"

// Frame is one WebSocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame builds a frame for event carrying data.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
