// Package handler implements the administrative HTTP API of the roster.
//
// # Handlers
//
// RosterHandler serves device management, validation, commit and undo,
// discovery reports, history and audit listings, telemetry queries and
// roster export. Routes registers every endpoint on a ServeMux.
//
// Middleware provides request logging, panic recovery and CORS support.
//
// # Device identifiers
//
// Serial port names contain slashes, so {id} path segments must be
// percent-encoded by clients: /api/devices/%2Fdev%2FttyUSB0.
//
// # Response Format
//
// Operation endpoints (validate, commit, undo, add, remove) always answer with
// their result object; the status code reflects the failure kind. Lookups
// return the resource or an {error, details} body.
//
// # Server-Sent Events
//
// GET /events streams roster changes from the service event bus.
package handler
