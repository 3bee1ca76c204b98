// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics groups every collector the service exports.
type Metrics struct {
	// fileshare_upload_admissions_total{outcome}
	UploadAdmissions *prometheus.CounterVec
	// fileshare_upload_deletions_total{trigger}
	UploadDeletions *prometheus.CounterVec
	// fileshare_object_delete_failures_total
	ObjectDeleteFailures prometheus.Counter
	// fileshare_webhook_events_total{provider,kind,outcome}
	WebhookEvents *prometheus.CounterVec
	// fileshare_archive_callbacks_total{outcome}
	ArchiveCallbacks *prometheus.CounterVec
	// fileshare_side_effects_total{task,outcome}
	SideEffects *prometheus.CounterVec
	// fileshare_pending_timers
	PendingTimers prometheus.Gauge
	// fileshare_sweep_duration_seconds
	SweepDuration prometheus.Histogram
}

// Init registers the collectors once and returns the shared instance. A nil
// registry means the default Prometheus registry.
func Init(registry prometheus.Registerer) *Metrics {
	once.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		f := promauto.With(registry)
		instance = &Metrics{
			UploadAdmissions: f.NewCounterVec(prometheus.CounterOpts{
				Name: "fileshare_upload_admissions_total",
				Help: "Upload requests by admission outcome",
			}, []string{"outcome"}),
			UploadDeletions: f.NewCounterVec(prometheus.CounterOpts{
				Name: "fileshare_upload_deletions_total",
				Help: "Deleted uploads by what triggered the deletion",
			}, []string{"trigger"}),
			ObjectDeleteFailures: f.NewCounter(prometheus.CounterOpts{
				Name: "fileshare_object_delete_failures_total",
				Help: "Object store deletions that failed and were skipped",
			}),
			WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
				Name: "fileshare_webhook_events_total",
				Help: "Billing webhook events by provider, kind and outcome",
			}, []string{"provider", "kind", "outcome"}),
			ArchiveCallbacks: f.NewCounterVec(prometheus.CounterOpts{
				Name: "fileshare_archive_callbacks_total",
				Help: "Archive worker callbacks by outcome",
			}, []string{"outcome"}),
			SideEffects: f.NewCounterVec(prometheus.CounterOpts{
				Name: "fileshare_side_effects_total",
				Help: "Post-commit side effects by task and outcome",
			}, []string{"task", "outcome"}),
			PendingTimers: f.NewGauge(prometheus.GaugeOpts{
				Name: "fileshare_pending_timers",
				Help: "Per-upload deletion timers currently scheduled",
			}),
			SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
				Name:    "fileshare_sweep_duration_seconds",
				Help:    "Time spent selecting uploads in one expiration sweep",
				Buckets: prometheus.DefBuckets,
			}),
		}
	})
	return instance
}
