// Package api implements the HTTP REST API and WebSocket server for the
// fish feeder client.
//
// This package provides:
//   - GET /api/v1/state for the current device State
//   - POST /api/v1/feed for the manual feed command
//   - GET /api/v1/dispatches for the dispatch log
//   - a WebSocket hub relaying every State change on channel "device.state"
//   - health and metrics endpoints
//
// # Architecture
//
// The server never mutates the device State. Reads go through
// feeder.Service.Snapshot and Watch; the only write path is the manual feed
// dispatch, which the feeder gates on the connection.
//
// # WebSocket protocol
//
// Clients send {"type":"subscribe","id":"1","channels":["device.state"]}
// and get a "subscribed" reply followed by the current State as an "event"
// frame, then one event per change. A slow client skips to the newest State
// rather than queueing old ones.
//
// # Graceful Degradation
//
// The server keeps serving while the broker is unreachable: reads return
// the last State with connection "reconnecting" or "disconnected", and feed
// requests fail with 409.
package api
