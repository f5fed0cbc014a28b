package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts session activity. A nil Recorder records nothing.
type Recorder struct {
	reg        *prometheus.Registry
	entries    prometheus.Counter
	duplicates prometheus.Counter
	advances   *prometheus.CounterVec
	resyncs    *prometheus.CounterVec
	sessions   prometheus.Gauge
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		reg: reg,
		entries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guessr_entries_recorded_total",
			Help: "Entries applied to a session.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guessr_entries_duplicate_total",
			Help: "Entry deliveries absorbed because the entry was already final.",
		}),
		advances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guessr_advances_total",
			Help: "Advance requests by resulting intent.",
		}, []string{"intent"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guessr_resyncs_total",
			Help: "Forced resynchronizations by cause.",
		}, []string{"cause"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guessr_sessions_active",
			Help: "Sessions currently running.",
		}),
	}
	reg.MustRegister(
		r.entries, r.duplicates, r.advances, r.resyncs, r.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) EntryRecorded() {
	if r == nil {
		return
	}
	r.entries.Inc()
}

func (r *Recorder) DuplicateEntry() {
	if r == nil {
		return
	}
	r.duplicates.Inc()
}

func (r *Recorder) Advance(intent string) {
	if r == nil {
		return
	}
	r.advances.WithLabelValues(intent).Inc()
}

func (r *Recorder) Resync(cause string) {
	if r == nil {
		return
	}
	r.resyncs.WithLabelValues(cause).Inc()
}

func (r *Recorder) SessionStarted() {
	if r == nil {
		return
	}
	r.sessions.Inc()
}

func (r *Recorder) SessionStopped() {
	if r == nil {
		return
	}
	r.sessions.Dec()
}

// Handler serves the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
