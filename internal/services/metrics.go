package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitewatch_check_cycles_total",
		Help: "Completed worker check cycles.",
	})
	watchChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_watch_checks_total",
		Help: "Individual watch checks by outcome.",
	}, []string{"outcome"}) // ok, changed, error
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_notifications_total",
		Help: "Alert delivery attempts by status.",
	}, []string{"status"}) // sent, failed, suppressed
	reportsPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitewatch_reports_purged_total",
		Help: "Reports removed by retention sweeps.",
	})
)
