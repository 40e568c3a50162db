package feeder

import "github.com/nerrad567/fishfeeder/internal/infrastructure/influxdb"

// Diagnostics counts lifecycle events for operators. Implementations must
// not block.
type Diagnostics interface {
	ConnectionChanged(state string)
	PayloadDropped(topic, reason string)
	DispatchOutcome(outcome string)
}

type noopDiagnostics struct{}

func (noopDiagnostics) ConnectionChanged(string)      {}
func (noopDiagnostics) PayloadDropped(string, string) {}
func (noopDiagnostics) DispatchOutcome(string)        {}

// influxDiagnostics writes diagnostics as InfluxDB points.
type influxDiagnostics struct {
	client *influxdb.Client
}

// NewInfluxDiagnostics returns Diagnostics backed by the InfluxDB client.
func NewInfluxDiagnostics(client *influxdb.Client) Diagnostics {
	return influxDiagnostics{client: client}
}

func (d influxDiagnostics) ConnectionChanged(state string) {
	d.client.WriteConnectionTransition(state)
}

func (d influxDiagnostics) PayloadDropped(topic, reason string) {
	d.client.WritePayloadDrop(topic, reason)
}

func (d influxDiagnostics) DispatchOutcome(outcome string) {
	d.client.WriteDispatchOutcome(outcome)
}
