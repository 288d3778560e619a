// Package realtime is the device-facing WebSocket transport.
//
// Devices connect to /socket and exchange event-tagged JSON frames:
//
//	{"event": "message", "data": {"ip": "...", "status": "...", "data": {...}}}
//	{"event": "hello",   "data": "<string-encoded JSON payload>"}
//
// On connect the server registers the session, attaches the socket as the
// session's transport and sends "hello" with "from server". Inbound
// "message" frames are handed to the event handler; other inbound events are
// ignored. Disconnect removes the session.
//
// Each socket runs a read pump and a write pump. Outbound frames go through
// a buffered channel; a full buffer drops the frame for that peer rather
// than stalling the relay.
package realtime
