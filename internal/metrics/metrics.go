package metrics

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PlannedCreates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "frame_sync",
		Name:      "planned_creates_total",
		Help:      "Create actions emitted by the reconciler.",
	})
	PlannedMoves = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "frame_sync",
		Name:      "planned_moves_total",
		Help:      "Move actions emitted by the reconciler.",
	})
	PlannedDeletes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "frame_sync",
		Name:      "planned_deletes_total",
		Help:      "Delete actions emitted by the reconciler.",
	})
	PlannedNoops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "frame_sync",
		Name:      "planned_noops_total",
		Help:      "Frames already converged at planning time.",
	})
	ObjectsCopied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "frame_sync",
		Name:      "objects_copied_total",
		Help:      "Objects copied by the executor (creates and move halves).",
	})
	ObjectsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "frame_sync",
		Name:      "objects_deleted_total",
		Help:      "Objects deleted by the executor.",
	})
	FramesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "frame_sync",
		Name:      "frames_failed_total",
		Help:      "Frames whose operation exhausted retries.",
	})
	VerifyIntegrityErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "frame_sync",
		Name:      "verify_integrity_errors_total",
		Help:      "Post-run discrepancies not explained by known failures.",
	})
	UnitsReconciled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "frame_sync",
		Name:      "units_reconciled_total",
		Help:      "Units that completed a plan/execute/verify cycle.",
	})
)

// Init registers collectors; call once from main.
func Init() {
	prometheus.MustRegister(
		PlannedCreates, PlannedMoves, PlannedDeletes, PlannedNoops,
		ObjectsCopied, ObjectsDeleted, FramesFailed,
		VerifyIntegrityErrors, UnitsReconciled,
	)
}

// Serve starts a /metrics server on the given addr (e.g., ":9090"). Non-blocking when run in goroutine.
func Serve(addr string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, nil)
}

// AddrFromEnv returns listen address from METRICS_ADDR or default ":9090".
func AddrFromEnv() string {
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		return v
	}
	return ":9090"
}
