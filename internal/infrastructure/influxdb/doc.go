// Package influxdb writes the client's diagnostic side channel to InfluxDB.
//
// Three measurements are written, each a count of 1 per event and tagged
// with the configured device_id:
//
//	connection_transitions  state=connected|reconnecting|...
//	payload_drops           topic=feed/level reason=malformed|missing_field|...
//	dispatches              outcome=submitted|not_connected|publish_failed
//
// No telemetry values (level, status text) are stored.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Device.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePayloadDrop("feed/level", "invalid_value")
//
// Writes are non-blocking and batched (batch_size, flush_interval). Write
// failures arrive asynchronously through SetOnError.
package influxdb
