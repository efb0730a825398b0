// Package metrics defines the process-wide Prometheus instruments. All
// instruments live on the default registry so any package can increment them
// without plumbing; the management API exposes them at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values shared by every counter vec.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	// PipelineItems counts stage outcomes. Stage is the processor name,
	// result is success or error.
	PipelineItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_pipeline_items_total",
		Help: "Pipeline items processed by stage and result.",
	}, []string{"stage", "result"})

	// TokenRefreshes counts shared-credential refresh attempts by result.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_token_refresh_total",
		Help: "Shared token refresh attempts by result.",
	}, []string{"result"})

	// FilesDetected counts new video files picked up by the watcher.
	FilesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curator_files_detected_total",
		Help: "New video files detected in the watch directory.",
	})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
