package discovery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome is the verdict for one (type, field) pair.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailed    Outcome = "failed"
)

// Pair is the sampling result of one reference parameter.
type Pair struct {
	SourceType string   `json:"source_type"`
	Field      string   `json:"field"`
	Outcome    Outcome  `json:"outcome"`
	Sampled    int      `json:"sampled"`
	Targets    []string `json:"targets,omitempty"`
	Malformed  int      `json:"malformed"`
	Error      string   `json:"error,omitempty"`
}

// Report records what one discovery run saw.
type Report struct {
	RunID       string    `json:"run_id"`
	SourceURL   string    `json:"source_url"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	SampleLimit int       `json:"sample_limit"`
	Pairs       []Pair    `json:"pairs"`
}

// Count returns how many pairs ended with outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, p := range r.Pairs {
		if p.Outcome == o {
			n++
		}
	}
	return n
}

// Partial reports whether any pair could not be sampled.
func (r *Report) Partial() bool {
	return r.Count(OutcomeFailed) > 0
}

var (
	// PairsTotal counts sampled pairs by outcome
	PairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhirgraph_discovery_pairs_total",
			Help: "Reference fields sampled by discovery, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(PairsTotal)
}
