// Package feeder assembles the fish feeder client.
//
// A Service owns the device State and the components around it:
//
//	mqtt.Session ──state──▶ device.Store ◀──Apply── telemetry.Registry
//	      ▲                      ▲                         ▲
//	      │ Publish              │ BeginOptimisticFeed     │ OnConnected
//	      └──── command.Dispatcher                         └── mqtt.Session
//
// Callers read the State with Snapshot or Watch and send the manual feed
// command with DispatchManualFeed. Dispatch outcomes can be persisted
// through a command.Recorder, and lifecycle counters written to InfluxDB
// through NewInfluxDiagnostics.
package feeder
