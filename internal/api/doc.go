// Package api implements the HTTP API and WebSocket feed of the middleware.
//
// This package provides:
//   - GRD descriptions, fleet summary and windowed history
//   - Relay history, latest faults and the observer switch
//   - WebSocket hub relaying per-tick snapshots (grd.snapshot, reles.snapshot)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Errors
//
// Failures are returned as {"status","code","message"}. An unknown device id
// is a 404; malformed query parameters are a 400.
//
// # Graceful Degradation
//
// The API only reads SQLite and the observer flag file. It keeps answering
// while the Modbus link or the MQTT broker is down; clients then see stale
// data or gaps in history.
package api
