// Package agent tracks connected edge devices (card readers and fingerprint
// units) and their real-time sessions.
//
// # Registry
//
// Registry is the session table used by the rest of the gateway. Manager is
// the production implementation:
//
//	mgr := agent.NewManager(logger)
//	mgr.Add(sessionID, "10.0.0.7")
//	defer mgr.Remove(sessionID)
//
// Key operations:
//
//   - Add(id, ip): insert or overwrite a session, stamping connected_at and last_activity
//   - Remove(id): delete a session and return the removed value
//   - Touch(id): refresh last_activity; unknown ids are ignored
//   - UpdateIP(id, ip): change the recorded address and refresh activity
//   - List(): snapshot of every live session, unordered
//   - Count(): number of live sessions
//
// Sessions are owned by the Manager. List and Remove hand back copies, so a
// caller can never observe a session mutating after it was removed.
//
// # Connections
//
// A session may carry an outbound Transport. Connect registers the session and
// its transport together; Connections returns a snapshot of every attached
// connection so the relay can emit to all peers without holding the registry
// lock while it sends.
//
// # Thread Safety
//
// Manager is safe for concurrent use. All locking is internal; List copies
// under a read lock and returns after releasing it.
package agent
