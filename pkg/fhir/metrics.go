package fhir

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// UpstreamRequests counts requests to the FHIR server by operation and outcome
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhirgraph_upstream_requests_total",
			Help: "Total number of requests issued to the FHIR server",
		},
		[]string{"operation", "outcome"},
	)

	// UpstreamDuration tracks request latency against the FHIR server
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fhirgraph_upstream_request_duration_seconds",
			Help:    "Latency of requests issued to the FHIR server",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// MalformedPages counts search pages that ended a cursor early
	MalformedPages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhirgraph_upstream_malformed_pages_total",
			Help: "Search result pages that could not be decoded as a Bundle",
		},
		[]string{"operation"},
	)

	// MalformedReferences counts reference values skipped because they are not "Type/id"
	MalformedReferences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhirgraph_malformed_references_total",
			Help: "Reference values skipped because they could not be parsed",
		},
		[]string{"resource_type", "field"},
	)
)

func init() {
	prometheus.MustRegister(UpstreamRequests)
	prometheus.MustRegister(UpstreamDuration)
	prometheus.MustRegister(MalformedPages)
	prometheus.MustRegister(MalformedReferences)
}
