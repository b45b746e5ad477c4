// Package api implements the admin HTTP API of the Kronos sync server.
//
// It runs on its own port, separate from the sync listener, and exposes:
//   - GET /health for liveness probes (database ping plus MQTT and InfluxDB status)
//   - GET /api/v1/sessions with live session counts
//   - GET /api/v1/metrics with runtime, connection and database pool statistics
//   - GET /api/v1/version
//
// The API is read-only and carries no authentication; bind it to a
// loopback or otherwise private address.
package api
