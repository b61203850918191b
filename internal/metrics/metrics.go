// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_scans_total",
		Help: "Scans processed, by result.",
	}, []string{"result"})

	Toggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_toggles_total",
		Help: "Session transitions, by scope kind and action.",
	}, []string{"scope", "action"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_notifications_total",
		Help: "Notification sends, by kind and outcome.",
	}, []string{"kind", "outcome"})

	Present = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "attendance_currently_present",
		Help: "Open sessions in a watched scope at the last poll.",
	}, []string{"scope"})

	Sessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "attendance_sessions",
		Help: "Sessions in a watched scope at the last poll.",
	}, []string{"scope"})
)
