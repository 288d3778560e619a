// Package control exposes the operator control API over gRPC.
//
// The services are described by hand (see desc.go) and carried with a JSON
// codec registered under the "json" content-subtype, so any gRPC client that
// can send JSON bodies can call them:
//
//   - timecard.RegistrationService: ListPending, ReserveDirect,
//     CancelReservation, RequestDelete, CompleteRegistration
//   - timecard.NotificationService: BroadcastEvent, ResolveAndBroadcast,
//     StreamEvents
//   - timecard.ClientService: ListClients
//
// Business outcomes (unknown driver, card already registered) come back in
// the response body with success=false and a reason. Store failures map to
// codes.Internal and a missing real-time layer to codes.Unavailable.
package control
