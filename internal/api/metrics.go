package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/fishfeeder/internal/device"
	"github.com/nerrad567/fishfeeder/internal/telemetry"
)

// metricsReport is the body of GET /metrics.
type metricsReport struct {
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Session       sessionMetrics  `json:"session"`
	Telemetry     telemetry.Stats `json:"telemetry"`
	WSClients     int             `json:"websocket_clients"`
	Goroutines    int             `json:"goroutines"`
	HeapAllocMB   float64         `json:"heap_alloc_mb"`
	NumGC         uint32          `json:"num_gc"`
	Database      *poolMetrics    `json:"database,omitempty"`
}

type sessionMetrics struct {
	Connection device.ConnectionState `json:"connection"`
	Connected  bool                   `json:"connected"`
	Feeding    bool                   `json:"feeding"`
	UpdatedAt  *time.Time             `json:"updated_at,omitempty"`
}

type poolMetrics struct {
	Open      int   `json:"open"`
	InUse     int   `json:"in_use"`
	Idle      int   `json:"idle"`
	WaitCount int64 `json:"wait_count"`
}

// handleMetrics reports session, telemetry and process counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	st := s.feeder.Snapshot()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	report := metricsReport{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Session: sessionMetrics{
			Connection: st.Connection,
			Connected:  st.Connection == device.ConnectionConnected,
			Feeding:    st.Feeding,
		},
		Telemetry:   s.feeder.TelemetryStats(),
		WSClients:   s.hub.ClientCount(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(mem.HeapAlloc) / (1 << 20),
		NumGC:       mem.NumGC,
	}
	if !st.UpdatedAt.IsZero() {
		report.Session.UpdatedAt = &st.UpdatedAt
	}

	if s.db != nil {
		pool := s.db.Stats()
		report.Database = &poolMetrics{
			Open:      pool.OpenConnections,
			InUse:     pool.InUse,
			Idle:      pool.Idle,
			WaitCount: pool.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, report)
}
