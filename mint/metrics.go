package mint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "mint"

var (
	signerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "signer",
			Name:      "requests_total",
			Help:      "Signing oracle round-trips by result",
		},
		[]string{"result"},
	)

	signerLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "signer",
			Name:      "request_duration_seconds",
			Help:      "Time spent waiting for the signing oracle",
			Buckets:   prometheus.DefBuckets,
		},
	)

	pipelineRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "rejections_total",
			Help:      "Batches rejected by the issuance and redemption pipelines",
		},
		[]string{"pipeline", "kind"},
	)

	settledAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "settlement",
			Name:      "amount_total",
			Help:      "Amounts issued and redeemed per unit",
		},
		[]string{"operation", "unit"},
	)
)
