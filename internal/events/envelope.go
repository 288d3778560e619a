// ABOUTME: Device event envelope that preserves unknown fields across enrichment.
// ABOUTME: Exposes typed accessors for status, ip, driver id and name.

package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Status tags sent by devices.
const (
	StatusTempWithoutPicture = "tmp inserted wo pic"
	StatusTempInserted       = "tmp inserted"
	StatusTempByCard         = "tmp inserted by ic"
	StatusTempByFinger       = "tmp inserted by fing"
	StatusCardLog            = "insert ic_log"
	StatusDeleteCard         = "delete_ic"
)

// UnknownIP is the placeholder devices send when they cannot determine their address.
const UnknownIP = "unknown"

// ErrNotObject is returned when an envelope is not a JSON object.
var ErrNotObject = errors.New("envelope is not a JSON object")

// Envelope is a device event. The zero value is an empty object.
type Envelope struct {
	fields map[string]json.RawMessage
	data   map[string]json.RawMessage // decoded lazily from fields["data"]
}

// ParseEnvelope decodes raw JSON into an Envelope.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	return &Envelope{fields: fields}, nil
}

// Status returns the status tag, or "" if absent or not a string.
func (e *Envelope) Status() string {
	return e.stringField(e.fields, "status")
}

// IP returns the ip field, or "" if absent or not a string.
func (e *Envelope) IP() string {
	return e.stringField(e.fields, "ip")
}

// Message returns the free-text message field.
func (e *Envelope) Message() string {
	return e.stringField(e.fields, "message")
}

// DriverID returns data.id when it is an integer.
func (e *Envelope) DriverID() (int64, bool) {
	data := e.payload()
	raw, ok := data["id"]
	if !ok || len(raw) == 0 || raw[0] == '"' {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Name returns data.name, or "" when absent, null or not a string.
func (e *Envelope) Name() string {
	return e.stringField(e.payload(), "name")
}

// SetName writes data.name, creating the data object if needed.
func (e *Envelope) SetName(name string) error {
	data := e.payload()
	if data == nil {
		if raw, ok := e.fields["data"]; ok && !isNull(raw) {
			return errors.New("data is not a JSON object")
		}
		data = make(map[string]json.RawMessage)
	}

	encoded, err := json.Marshal(name)
	if err != nil {
		return err
	}
	data["name"] = encoded

	packed, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding data: %w", err)
	}
	if e.fields == nil {
		e.fields = make(map[string]json.RawMessage)
	}
	e.fields["data"] = packed
	e.data = data
	return nil
}

// Has reports whether a top-level field is present.
func (e *Envelope) Has(key string) bool {
	_, ok := e.fields[key]
	return ok
}

// HasDataField reports whether data contains key.
func (e *Envelope) HasDataField(key string) bool {
	_, ok := e.payload()[key]
	return ok
}

// MarshalJSON encodes the envelope with every original field.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	if e.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.fields)
}

// UnmarshalJSON lets envelopes be embedded in RPC messages.
func (e *Envelope) UnmarshalJSON(raw []byte) error {
	parsed, err := ParseEnvelope(raw)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}

// Encode returns the envelope as compact JSON text.
func (e *Envelope) Encode() (json.RawMessage, error) {
	return e.MarshalJSON()
}

func (e *Envelope) payload() map[string]json.RawMessage {
	if e.data != nil {
		return e.data
	}
	raw, ok := e.fields["data"]
	if !ok || isNull(raw) {
		return nil
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	e.data = data
	return data
}

func (e *Envelope) stringField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
