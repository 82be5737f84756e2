package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssetsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liberate_assets_detected_total",
		Help: "Platform-coupled constructs found by the classifier",
	}, []string{"kind"}) // kind: function_handler/table/access_policy

	Conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liberate_conversions_total",
		Help: "Conversion results produced, by result kind and status",
	}, []string{"kind", "status"}) // kind: route/middleware, status: ok/failed

	TransferFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liberate_transfer_files_total",
		Help: "Transfer outcomes recorded by the dispatcher",
	}, []string{"mode", "status"}) // status: succeeded/failed

	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liberate_stage_transitions_total",
		Help: "Pipeline stage transitions, by destination stage",
	}, []string{"to"})
)

// StatusLabel maps a boolean outcome onto the transfer status label.
func StatusLabel(ok bool) string {
	if ok {
		return "succeeded"
	}
	return "failed"
}
