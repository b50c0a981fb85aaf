package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"certinv/internal/inventory"
)

// Search outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeInvalid     = "invalid"
	OutcomeUpstream    = "upstream"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Recorder counts inventory activity. It doubles as an inventory.Notifier so
// the service reports changes to it directly.
type Recorder struct {
	searches *prometheus.CounterVec
	changes  *prometheus.CounterVec
	records  *prometheus.CounterVec
}

// NewRecorder creates the counters and registers them with registerer.
func NewRecorder(registerer prometheus.Registerer) *Recorder {
	recorder := &Recorder{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certinv_searches_total",
			Help: "Certificate searches by mode and outcome",
		}, []string{"mode", "outcome"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certinv_changes_total",
			Help: "Completed inventory changes by entity and operation",
		}, []string{"entity", "op"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certinv_changed_records_total",
			Help: "Records touched by inventory changes, by entity and operation",
		}, []string{"entity", "op"}),
	}
	registerer.MustRegister(recorder.searches, recorder.changes, recorder.records)
	return recorder
}

// ObserveSearch counts one search.
func (r *Recorder) ObserveSearch(mode inventory.Mode, outcome string) {
	r.searches.WithLabelValues(string(mode), outcome).Inc()
}

func (r *Recorder) Notify(_ context.Context, change inventory.Change) {
	r.changes.WithLabelValues(string(change.Entity), string(change.Op)).Inc()
	r.records.WithLabelValues(string(change.Entity), string(change.Op)).Add(float64(len(change.IDs)))
}
