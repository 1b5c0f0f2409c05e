// metrics.go: Prometheus collectors for dispatch, appenders and reporting
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the manager updates. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	recordsTotal          *prometheus.CounterVec
	appenderWritesTotal   *prometheus.CounterVec
	appenderDropsTotal    *prometheus.CounterVec
	appenderErrorsTotal   *prometheus.CounterVec
	fileTrimsTotal        *prometheus.CounterVec
	fileTrimmedBytesTotal *prometheus.CounterVec
	reportsTotal          *prometheus.CounterVec
	internalErrorsTotal   prometheus.Counter
	appenders             prometheus.Gauge
}

// Report outcome label values.
const (
	reportSent       = "sent"
	reportFailed     = "failed"
	reportDropped    = "dropped"
	reportSuppressed = "suppressed"
)

// NewMetrics creates the collectors and registers them on registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "styx_records_total",
			Help: "Records dispatched to appenders",
		},
		[]string{"level"},
	)
	m.appenderWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "styx_appender_writes_total",
			Help: "Records written by an appender",
		},
		[]string{"appender"},
	)
	m.appenderDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "styx_appender_drops_total",
			Help: "Records an appender discarded because its queue was full or its destination closed",
		},
		[]string{"appender"},
	)
	m.appenderErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "styx_appender_errors_total",
			Help: "Failures reported by an appender",
		},
		[]string{"appender"},
	)
	m.fileTrimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "styx_file_trims_total",
			Help: "Size-triggered or manual file trims",
		},
		[]string{"appender"},
	)
	m.fileTrimmedBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "styx_file_trimmed_bytes_total",
			Help: "Bytes removed from log files by trimming",
		},
		[]string{"appender"},
	)
	m.reportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "styx_reports_total",
			Help: "Remote reports by outcome",
		},
		[]string{"outcome"}, // sent, failed, dropped, suppressed
	)
	m.internalErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "styx_internal_errors_total",
		Help: "Errors delivered to the internal error sink",
	})
	m.appenders = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "styx_appenders",
		Help: "Registered appenders",
	})
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.recordsTotal.Describe(ch)
	m.appenderWritesTotal.Describe(ch)
	m.appenderDropsTotal.Describe(ch)
	m.appenderErrorsTotal.Describe(ch)
	m.fileTrimsTotal.Describe(ch)
	m.fileTrimmedBytesTotal.Describe(ch)
	m.reportsTotal.Describe(ch)
	m.internalErrorsTotal.Describe(ch)
	m.appenders.Describe(ch)
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.recordsTotal.Collect(ch)
	m.appenderWritesTotal.Collect(ch)
	m.appenderDropsTotal.Collect(ch)
	m.appenderErrorsTotal.Collect(ch)
	m.fileTrimsTotal.Collect(ch)
	m.fileTrimmedBytesTotal.Collect(ch)
	m.reportsTotal.Collect(ch)
	m.internalErrorsTotal.Collect(ch)
	m.appenders.Collect(ch)
}

func (m *Metrics) recordDispatched(l Level) {
	if m != nil {
		m.recordsTotal.WithLabelValues(l.String()).Inc()
	}
}

func (m *Metrics) appenderWrite(name string) {
	if m != nil {
		m.appenderWritesTotal.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) appenderDrop(name string) {
	if m != nil {
		m.appenderDropsTotal.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) appenderError(name string) {
	if m != nil {
		m.appenderErrorsTotal.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) fileTrimmed(name string, removed int64) {
	if m != nil {
		m.fileTrimsTotal.WithLabelValues(name).Inc()
		m.fileTrimmedBytesTotal.WithLabelValues(name).Add(float64(removed))
	}
}

func (m *Metrics) report(outcome string) {
	if m != nil {
		m.reportsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) internalError() {
	if m != nil {
		m.internalErrorsTotal.Inc()
	}
}

func (m *Metrics) setAppenders(n int) {
	if m != nil {
		m.appenders.Set(float64(n))
	}
}
