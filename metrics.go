// FILE: metrics.go
// Package main – Prometheus metrics for observability.
//
// Exposes the metrics the bidder updates during operation:
//   • bidpilot_decisions_total{phase,tag}   – engine decisions taken on ticks and checks
//   • bidpilot_bids_total{result}           – bids submitted (placed|rejected)
//   • bidpilot_ticks_total{outcome}         – autopilot ticks (ok|error|ended)
//   • bidpilot_autopilot_runs_total{result} – finished runs (ended|timeout|stopped)
//   • bidpilot_snapshot_errors_total        – failed snapshot fetches
//   • bidpilot_bridge_requests_total{op,result} – sidecar calls
//   • bidpilot_sessions_active              – live sessions (gauge)
//   • bidpilot_aggressiveness{profile}      – learned aggressiveness (gauge)
//
// These are registered in init() and served at /metrics by main.go.

package main

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidpilot_decisions_total",
			Help: "Decisions taken",
		},
		[]string{"phase", "tag"},
	)

	mtxBids = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidpilot_bids_total",
			Help: "Bids submitted by result",
		},
		[]string{"result"},
	)

	mtxTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidpilot_ticks_total",
			Help: "Autopilot ticks by outcome",
		},
		[]string{"outcome"},
	)

	mtxAutopilotRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidpilot_autopilot_runs_total",
			Help: "Finished autopilot runs by result",
		},
		[]string{"result"},
	)

	mtxSnapshotErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bidpilot_snapshot_errors_total",
			Help: "Failed snapshot fetches",
		},
	)

	mtxBridgeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidpilot_bridge_requests_total",
			Help: "Sidecar requests by operation and result",
		},
		[]string{"op", "result"},
	)

	mtxSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bidpilot_sessions_active",
			Help: "Live bidding sessions",
		},
	)

	mtxAggressiveness = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bidpilot_aggressiveness",
			Help: "Current aggressiveness per tuning profile",
		},
		[]string{"profile"},
	)
)

func init() {
	prometheus.MustRegister(mtxDecisions, mtxBids, mtxTicks, mtxAutopilotRuns)
	prometheus.MustRegister(mtxSnapshotErrors, mtxBridgeRequests)
	prometheus.MustRegister(mtxSessionsActive, mtxAggressiveness)
}

func SetAggressivenessMetric(profile string, v float64) {
	mtxAggressiveness.WithLabelValues(profile).Set(v)
}
