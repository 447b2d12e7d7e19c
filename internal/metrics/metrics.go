// Package metrics exposes the Prometheus counters/gauges the engine,
// scheduler, handlers, and reconciler update during operation:
//   - copytrader_ticks_total{outcome}            – ticks by outcome (ok|error|skipped_lock)
//   - copytrader_lock_contention_total           – tasklock acquisitions that found the lock held
//   - copytrader_handler_outcomes_total{side,outcome} – BUY/SELL/REDEEM handler results
//   - copytrader_reconcile_sweeps_total{outcome} – reconcile.Sweep calls by outcome (ok|error)
//   - copytrader_reconcile_forced_closes_total   – positions force-closed by a sweep
//   - copytrader_running_tasks                   – current running-task count (gauge)
//   - copytrader_activity_ingested_total{side}   – activities fetched from the venue
//
// Registered in init() and served by internal/api at /metrics via
// promhttp.Handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_ticks_total",
			Help: "Scheduled ticks processed, by outcome.",
		},
		[]string{"outcome"},
	)

	lockContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "copytrader_lock_contention_total",
			Help: "Tick acquisitions that found the task lock already held and skipped rather than waited.",
		},
	)

	handlerOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_handler_outcomes_total",
			Help: "Trade handler results, by activity side and outcome.",
		},
		[]string{"side", "outcome"}, // side: BUY|SELL|REDEEM, outcome: ok|skipped|exhausted
	)

	reconcileSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_reconcile_sweeps_total",
			Help: "Position reconciler sweeps, by outcome.",
		},
		[]string{"outcome"}, // ok|error
	)

	reconcileForcedCloses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "copytrader_reconcile_forced_closes_total",
			Help: "Positions force-closed because the target trader no longer holds them.",
		},
	)

	runningTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "copytrader_running_tasks",
			Help: "Number of tasks currently scheduled (status=running).",
		},
	)

	activityIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_activity_ingested_total",
			Help: "Activities fetched from the venue's activity feed, by side.",
		},
		[]string{"side"},
	)
)

func init() {
	prometheus.MustRegister(ticks, lockContention, handlerOutcomes)
	prometheus.MustRegister(reconcileSweeps, reconcileForcedCloses)
	prometheus.MustRegister(runningTasks, activityIngested)
}

// IncTick records one tick outcome: "ok", "error", or "skipped_lock".
func IncTick(outcome string) { ticks.WithLabelValues(outcome).Inc() }

// IncLockContention records a tick that skipped because the task lock
// was already held.
func IncLockContention() { lockContention.Inc() }

// IncHandlerOutcome records one BUY/SELL/REDEEM handler result.
func IncHandlerOutcome(side, outcome string) { handlerOutcomes.WithLabelValues(side, outcome).Inc() }

// IncReconcileSweep records one reconciler sweep's outcome: "ok" or
// "error".
func IncReconcileSweep(outcome string) { reconcileSweeps.WithLabelValues(outcome).Inc() }

// IncReconcileForcedClose records one position forced closed by a
// sweep.
func IncReconcileForcedClose() { reconcileForcedCloses.Inc() }

// SetRunningTasks sets the current running-task gauge.
func SetRunningTasks(n int) { runningTasks.Set(float64(n)) }

// IncActivityIngested records one activity fetched for processing, by
// side ("buy" or "sell").
func IncActivityIngested(side string) { activityIngested.WithLabelValues(side).Inc() }
