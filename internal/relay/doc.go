// Package relay fans one JSON payload out to every broadcast sink.
//
// # Sinks
//
// Hub.Relay delivers a payload to three sinks whose failures never affect
// each other or the caller:
//
//  1. Live sessions: the payload text is emitted as the "hello" event to every
//     connected device, the sender included. A failing peer is logged and
//     counted.
//  2. Subscriber stream: EventBroadcaster pushes the payload into a bounded
//     channel per subscriber. Publish never blocks; a full channel drops the
//     event for that subscriber only, and with no subscribers the event is
//     dropped silently.
//  3. Webhook (optional): WebhookNotifier POSTs
//     {"type":"hello","data":<payload>,"timestamp":<RFC3339>} from a detached
//     goroutine with a bounded timeout. Failures are logged and never retried.
//     Close abandons in-flight calls.
//
// # Metrics
//
// Metrics exports relay counters to Prometheus. A nil *Metrics is valid and
// records nothing.
package relay
