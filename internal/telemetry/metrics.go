// Package telemetry exposes Prometheus metrics for the membership manager.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var once sync.Once

var (
	// WorkersTracked is the number of worker records currently held by
	// the reconciler.
	WorkersTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "membership_manager",
		Name:      "workers_tracked",
		Help:      "Current number of tracked worker records",
	})

	// EventsTotal counts consumed container events by kind.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "membership_manager",
		Name:      "events_total",
		Help:      "Total container events applied, by kind",
	}, []string{"kind"})

	// EventsDiscarded counts events dropped as stale or malformed.
	EventsDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "membership_manager",
		Name:      "events_discarded_total",
		Help:      "Total events discarded, by reason",
	}, []string{"reason"})

	// CommandsTotal counts completed membership commands by operation
	// and result.
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "membership_manager",
		Name:      "commands_total",
		Help:      "Total membership commands completed, by operation and result",
	}, []string{"operation", "result"})

	// CommandRetries counts individual retry attempts across all commands.
	CommandRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "membership_manager",
		Name:      "command_retries_total",
		Help:      "Total command retry attempts after transient failures",
	})

	// CommandAlarms counts permanent command failures surfaced to the
	// operator.
	CommandAlarms = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "membership_manager",
		Name:      "command_alarms_total",
		Help:      "Total permanent command failures requiring manual intervention",
	})

	// SweepsTotal counts bootstrap sweeps by result.
	SweepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "membership_manager",
		Name:      "sweeps_total",
		Help:      "Total reconciliation sweeps, by result",
	}, []string{"result"})

	// StreamDisconnects counts event stream disconnects that forced a
	// resweep.
	StreamDisconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "membership_manager",
		Name:      "stream_disconnects_total",
		Help:      "Total event stream disconnects",
	})
)

// Register registers all collectors with the default registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(WorkersTracked)
		prometheus.MustRegister(EventsTotal)
		prometheus.MustRegister(EventsDiscarded)
		prometheus.MustRegister(CommandsTotal)
		prometheus.MustRegister(CommandRetries)
		prometheus.MustRegister(CommandAlarms)
		prometheus.MustRegister(SweepsTotal)
		prometheus.MustRegister(StreamDisconnects)
	})
}
