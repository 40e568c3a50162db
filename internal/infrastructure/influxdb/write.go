package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names for the diagnostic side channel.
// Telemetry values themselves are never written.
const (
	MeasurementConnection = "connection_transitions"
	MeasurementDrops      = "payload_drops"
	MeasurementDispatches = "dispatches"
)

// WriteConnectionTransition records the session entering state.
func (c *Client) WriteConnectionTransition(state string) {
	c.writePoint(connectionPoint(state, c.now()))
}

// WritePayloadDrop records a telemetry message rejected for reason.
func (c *Client) WritePayloadDrop(topic, reason string) {
	c.writePoint(dropPoint(topic, reason, c.now()))
}

// WriteDispatchOutcome records how a manual feed dispatch ended.
func (c *Client) WriteDispatchOutcome(outcome string) {
	c.writePoint(dispatchPoint(outcome, c.now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(p)
}

func connectionPoint(state string, at time.Time) *write.Point {
	return write.NewPoint(MeasurementConnection,
		map[string]string{"state": state},
		map[string]interface{}{"count": 1},
		at,
	)
}

func dropPoint(topic, reason string, at time.Time) *write.Point {
	return write.NewPoint(MeasurementDrops,
		map[string]string{"topic": topic, "reason": reason},
		map[string]interface{}{"count": 1},
		at,
	)
}

func dispatchPoint(outcome string, at time.Time) *write.Point {
	return write.NewPoint(MeasurementDispatches,
		map[string]string{"outcome": outcome},
		map[string]interface{}{"count": 1},
		at,
	)
}
