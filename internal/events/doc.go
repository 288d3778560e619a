// Package events classifies inbound device envelopes, enriches them with
// reference data, and hands each one to the relay exactly once.
//
// # Envelopes
//
// Devices send JSON objects of the form:
//
//	{"ip": "...", "status": "...", "message": "...", "data": {"id": 42, "name": "...", ...}}
//
// Envelope keeps every top-level and data field it was given, so fields the
// gateway does not understand are forwarded untouched.
//
// # Classification
//
//   - "tmp inserted wo pic": if data.id is an integer and data.name is absent,
//     null or empty, the driver name is looked up and filled in. A missing
//     driver or a failed lookup is logged and the envelope is forwarded as-is.
//   - "tmp inserted", "tmp inserted by ic", "tmp inserted by fing": forwarded unchanged.
//   - "insert ic_log", "delete_ic" and anything else: forwarded unchanged.
//
// # Session Bookkeeping
//
// Router.Handle touches the originating session and records the envelope's
// ip field when it is present and not the "unknown" placeholder.
package events
