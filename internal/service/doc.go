// Package service implements roster business logic between the transports
// (HTTP handlers and the CLI) and the repository.
//
// RosterService owns validation, allocation planning, commit and undo, manual
// device mutations, discovery reports, telemetry capture and roster
// import/export. Roster rewrites are serialized; probes never run while the
// commit lock is held.
//
// # Event System
//
// Roster changes are published on an EventBus. The hub package forwards them
// to Server-Sent Events subscribers.
package service
