package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RPCRequests counts finished RPCs by method and status code
	RPCRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhirgraph_rpc_requests_total",
			Help: "Total number of RPCs handled, by method and status code",
		},
		[]string{"method", "code"},
	)

	// RPCDuration tracks how long each RPC ran, streams included
	RPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fhirgraph_rpc_duration_seconds",
			Help:    "RPC latency, measured until the handler returns",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 10, 30, 120},
		},
		[]string{"method"},
	)

	// RowsSent counts rows written to response streams
	RowsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhirgraph_rpc_rows_sent_total",
			Help: "Rows sent on response streams",
		},
		[]string{"method"},
	)

	// Inflight is the number of RPCs currently holding a worker slot
	Inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fhirgraph_rpc_inflight",
			Help: "RPCs currently executing",
		},
	)
)

func init() {
	prometheus.MustRegister(RPCRequests)
	prometheus.MustRegister(RPCDuration)
	prometheus.MustRegister(RowsSent)
	prometheus.MustRegister(Inflight)
}
