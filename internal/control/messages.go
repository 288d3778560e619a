// ABOUTME: Request and response bodies for the control services
// ABOUTME: Field names are snake_case on the wire; times are RFC3339 strings

package control

import "encoding/json"

// Reasons reported with success=false.
const (
	ReasonNotFound = "not_found"
	ReasonConflict = "conflict"
)

type ListPendingRequest struct {
	// Since is RFC3339 or "2006-01-02 15:04:05" local time. Empty means the
	// configured pending window back from now.
	Since string `json:"since,omitempty"`
}

type PendingRegistration struct {
	CardID           string `json:"card_id"`
	ReservedDriverID *int64 `json:"reserved_driver_id,omitempty"`
	ReservationTime  string `json:"reservation_time"`
	Completed        bool   `json:"completed"`
}

type ListPendingResponse struct {
	Items []PendingRegistration `json:"items"`
}

type ReserveDirectRequest struct {
	CardID   string `json:"card_id"`
	DriverID int64  `json:"driver_id"`
}

type ReserveDirectResponse struct {
	Success         bool   `json:"success"`
	Reason          string `json:"reason,omitempty"`
	Message         string `json:"message"`
	CardID          string `json:"card_id,omitempty"`
	DriverID        int64  `json:"driver_id,omitempty"`
	DriverName      string `json:"driver_name,omitempty"`
	ReservationTime string `json:"reservation_time,omitempty"`
}

type CancelReservationRequest struct {
	CardID string `json:"card_id"`
}

type RequestDeleteRequest struct {
	CardID string `json:"card_id"`
}

type RequestDeleteResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Sessions int    `json:"sessions"`
}

// CompleteRegistrationRequest is sent on behalf of the device that read
// the reserved card.
type CompleteRegistrationRequest struct {
	CardID   string `json:"card_id"`
	DriverID int64  `json:"driver_id"`
}

type CompleteRegistrationResponse struct {
	Success  bool   `json:"success"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message"`
	RecordID int64  `json:"record_id,omitempty"`
	Date     string `json:"date,omitempty"`
}

// EventFrame is one relayed payload on the event stream.
type EventFrame struct {
	Payload json.RawMessage `json:"payload"`
}

type ConnectedClient struct {
	SessionID    string `json:"session_id"`
	IPAddress    string `json:"ip_address"`
	ConnectedAt  string `json:"connected_at"`
	LastActivity string `json:"last_activity"`
}

type ListClientsResponse struct {
	Clients []ConnectedClient `json:"clients"`
	Total   int               `json:"total"`
}
