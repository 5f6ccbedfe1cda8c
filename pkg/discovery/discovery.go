// Package discovery infers the edge schema of a FHIR server by sampling the
// values of every reference search parameter.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rmax-ai/fhirgraph/pkg/fhir"
	"github.com/rmax-ai/fhirgraph/pkg/schema"
)

// DefaultSampleLimit caps how many resources are read per (type, field) pair.
const DefaultSampleLimit = 100

// Source is the subset of the FHIR client discovery needs.
type Source interface {
	BaseURL() string
	Describe(ctx context.Context) (*fhir.CapabilityStatement, error)
	ScanNonEmpty(resourceType, field string) *fhir.Cursor
}

// Discoverer runs schema discovery against one server.
type Discoverer struct {
	source      Source
	sampleLimit int
	now         func() time.Time
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithSampleLimit overrides DefaultSampleLimit. Values <= 0 are ignored.
func WithSampleLimit(n int) Option {
	return func(d *Discoverer) {
		if n > 0 {
			d.sampleLimit = n
		}
	}
}

// WithClock replaces time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Discoverer) {
		d.now = now
	}
}

// New creates a Discoverer.
func New(source Source, opts ...Option) *Discoverer {
	d := &Discoverer{
		source:      source,
		sampleLimit: DefaultSampleLimit,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run describes the server and samples every reference parameter. A pair is
// kept only when all sampled references point at a single type. Failures of
// individual pairs are recorded in the report and do not stop the run; a
// failed Describe does.
func (d *Discoverer) Run(ctx context.Context) (*schema.EdgeSchema, *Report, error) {
	report := &Report{
		RunID:       uuid.NewString(),
		SourceURL:   d.source.BaseURL(),
		StartedAt:   d.now().UTC(),
		SampleLimit: d.sampleLimit,
	}
	slog.Info("discovery_started", "run_id", report.RunID, "source", report.SourceURL, "sample_limit", d.sampleLimit)

	cs, err := d.source.Describe(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to describe source: %w", err)
	}

	edges := schema.New()
	for _, def := range cs.Resources() {
		for _, param := range def.ReferenceParams() {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}

			pair := d.sample(ctx, def.Type, param.Name)
			if pair.Outcome == OutcomeFailed && ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			d.log(pair)
			PairsTotal.WithLabelValues(string(pair.Outcome)).Inc()

			if pair.Outcome == OutcomeAccepted {
				edges.Set(pair.SourceType, pair.Field, pair.Targets[0])
			}
			report.Pairs = append(report.Pairs, pair)
		}
	}

	report.FinishedAt = d.now().UTC()
	slog.Info("discovery_finished",
		"run_id", report.RunID,
		"pairs", len(report.Pairs),
		"edges", edges.Len(),
		"failed", report.Count(OutcomeFailed),
	)
	return edges, report, nil
}

func (d *Discoverer) sample(ctx context.Context, resourceType, field string) Pair {
	pair := Pair{SourceType: resourceType, Field: field}
	seen := make(map[string]struct{})

	cur := d.source.ScanNonEmpty(resourceType, field).Limit(d.sampleLimit)
	for pair.Sampled < d.sampleLimit && cur.Next(ctx) {
		pair.Sampled++
		refs, malformed := cur.Resource().References(field)
		pair.Malformed += malformed
		for _, ref := range refs {
			seen[ref.Type] = struct{}{}
		}
	}
	if pair.Malformed > 0 {
		fhir.MalformedReferences.WithLabelValues(resourceType, field).Add(float64(pair.Malformed))
	}

	if err := cur.Err(); err != nil {
		pair.Outcome = OutcomeFailed
		pair.Error = err.Error()
		return pair
	}

	for t := range seen {
		pair.Targets = append(pair.Targets, t)
	}
	sort.Strings(pair.Targets)

	switch len(pair.Targets) {
	case 0:
		pair.Outcome = OutcomeEmpty
	case 1:
		pair.Outcome = OutcomeAccepted
	default:
		pair.Outcome = OutcomeAmbiguous
	}
	return pair
}

func (d *Discoverer) log(p Pair) {
	attrs := []any{"resource_type", p.SourceType, "field", p.Field, "sampled", p.Sampled}
	if p.Malformed > 0 {
		attrs = append(attrs, "malformed", p.Malformed)
	}

	switch p.Outcome {
	case OutcomeAccepted:
		slog.Info("edge_accepted", append(attrs, "target", p.Targets[0])...)
	case OutcomeAmbiguous:
		slog.Info("edge_dropped_ambiguous", append(attrs, "targets", p.Targets)...)
	case OutcomeEmpty:
		slog.Debug("edge_no_references", attrs...)
	case OutcomeFailed:
		slog.Error("failed_to_sample_reference_field", append(attrs, "error", p.Error)...)
	}
}
