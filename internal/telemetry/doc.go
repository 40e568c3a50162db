// Package telemetry subscribes to the feeder's telemetry topics and feeds
// every inbound message into the device store.
//
// Registry.OnConnected is installed as the session's on-connected hook. It
// subscribes to the level, last-feed and status topics at QoS 0 each time
// the session connects. Messages the store rejects are logged and reported
// to Diagnostics; they never reach the transport as errors.
package telemetry
