// Package command sends operator commands to the feeder.
//
// DispatchManualFeed is the only command. It is gated on the device store
// being connected, raises the optimistic Feeding flag, and publishes
// {"command":"ON"} to the manual topic once at QoS 0. Every attempt is
// written to the dispatch log and the diagnostics channel when configured.
package command
