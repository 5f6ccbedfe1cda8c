package discovery_test

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/fhirgraph/pkg/discovery"
	"github.com/rmax-ai/fhirgraph/pkg/fhir"
	"github.com/rmax-ai/fhirgraph/pkg/fhir/fhirtest"
)

func newServer(t *testing.T) (*fhirtest.Server, *fhir.Client) {
	t.Helper()
	srv := fhirtest.NewServer(fhir.NewCapabilityStatement(
		fhirtest.Definition("Patient", "name:string", "general-practitioner:reference"),
		fhirtest.Definition("Observation", "code:token", "subject:reference", "performer:reference"),
	))
	t.Cleanup(srv.Close)

	srv.Add(
		fhirtest.Resource("Patient", "p1", map[string]any{"general-practitioner": fhirtest.Ref("Practitioner/dr1")}),
		fhirtest.Resource("Patient", "p2", map[string]any{"general-practitioner": fhirtest.Refs("Practitioner/dr2")}),
		fhirtest.Resource("Observation", "o1", map[string]any{"subject": fhirtest.Ref("Patient/p1")}),
		fhirtest.Resource("Observation", "o2", map[string]any{"subject": fhirtest.Ref("Patient/p2")}),
		fhirtest.Resource("Observation", "o3", map[string]any{"subject": fhirtest.Ref("Group/g1")}),
	)

	client, err := fhir.NewClient(srv.URL)
	require.NoError(t, err)
	return srv, client
}

func pairByField(t *testing.T, r *discovery.Report, typ, field string) discovery.Pair {
	t.Helper()
	for _, p := range r.Pairs {
		if p.SourceType == typ && p.Field == field {
			return p
		}
	}
	t.Fatalf("no pair %s.%s in report", typ, field)
	return discovery.Pair{}
}

func TestRun_SingleTargetRule(t *testing.T) {
	_, client := newServer(t)

	edges, report, err := discovery.New(client).Run(context.Background())
	require.NoError(t, err)

	target, ok := edges.Target("Patient", "general-practitioner")
	assert.True(t, ok)
	assert.Equal(t, "Practitioner", target)

	_, ok = edges.Target("Observation", "subject")
	assert.False(t, ok, "fields seen pointing at two types must be dropped")
	_, ok = edges.Target("Observation", "performer")
	assert.False(t, ok, "fields never seen populated must be dropped")
	assert.Equal(t, 1, edges.Len())

	require.Len(t, report.Pairs, 3)
	assert.Equal(t, discovery.OutcomeAccepted, pairByField(t, report, "Patient", "general-practitioner").Outcome)

	subject := pairByField(t, report, "Observation", "subject")
	assert.Equal(t, discovery.OutcomeAmbiguous, subject.Outcome)
	assert.Equal(t, []string{"Group", "Patient"}, subject.Targets)
	assert.Equal(t, 3, subject.Sampled)

	assert.Equal(t, discovery.OutcomeEmpty, pairByField(t, report, "Observation", "performer").Outcome)
	assert.False(t, report.Partial())
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, client.BaseURL(), report.SourceURL)
}

var eventKey = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func TestRun_LogsSnakeCaseEvents(t *testing.T) {
	srv, client := newServer(t)
	srv.Fail("Patient", http.StatusInternalServerError)
	logs := fhirtest.CaptureLogs(t, slog.LevelDebug)

	_, _, err := discovery.New(client).Run(context.Background())
	require.NoError(t, err)

	msgs := logs.Messages(t)
	for _, m := range msgs {
		assert.Regexp(t, eventKey, m)
	}
	for _, want := range []string{
		"discovery_started",
		"edge_dropped_ambiguous",
		"edge_no_references",
		"failed_to_sample_reference_field",
		"discovery_finished",
	} {
		assert.Contains(t, msgs, want)
	}
}

func TestRun_SampleLimit(t *testing.T) {
	srv, client := newServer(t)

	// only o1 and o2 are read, so the Group reference is never seen
	edges, report, err := discovery.New(client, discovery.WithSampleLimit(2)).Run(context.Background())
	require.NoError(t, err)

	target, ok := edges.Target("Observation", "subject")
	assert.True(t, ok)
	assert.Equal(t, "Patient", target)
	assert.Equal(t, 2, pairByField(t, report, "Observation", "subject").Sampled)
	assert.Equal(t, 2, report.SampleLimit)

	for _, u := range srv.Requests() {
		assert.NotEqual(t, "2", u.Query().Get("_page"), "sampling must stop at the limit")
	}
}

func TestRun_MalformedReferencesAreCounted(t *testing.T) {
	srv, client := newServer(t)
	srv.Add(fhirtest.Resource("Patient", "p3", map[string]any{
		"general-practitioner": fhirtest.Refs("Practitioner/dr3", "#contained", "urn:uuid:1234"),
	}))

	edges, report, err := discovery.New(client).Run(context.Background())
	require.NoError(t, err)

	_, ok := edges.Target("Patient", "general-practitioner")
	assert.True(t, ok)
	assert.Equal(t, 2, pairByField(t, report, "Patient", "general-practitioner").Malformed)
}

func TestRun_PairFailureIsRecorded(t *testing.T) {
	srv, client := newServer(t)
	srv.Fail("Observation", http.StatusInternalServerError)

	edges, report, err := discovery.New(client).Run(context.Background())
	require.NoError(t, err)

	_, ok := edges.Target("Patient", "general-practitioner")
	assert.True(t, ok)

	failed := pairByField(t, report, "Observation", "subject")
	assert.Equal(t, discovery.OutcomeFailed, failed.Outcome)
	assert.Contains(t, failed.Error, "500")
	assert.True(t, report.Partial())
	assert.Equal(t, 2, report.Count(discovery.OutcomeFailed))
}

func TestRun_DescribeFailureAborts(t *testing.T) {
	srv, client := newServer(t)
	srv.Fail("metadata", http.StatusBadGateway)

	_, _, err := discovery.New(client).Run(context.Background())
	assert.ErrorIs(t, err, fhir.ErrUnavailable)
}

func TestRun_Canceled(t *testing.T) {
	_, client := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := discovery.New(client).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Timestamps(t *testing.T) {
	_, client := newServer(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := start
	clock := func() time.Time {
		now := tick
		tick = tick.Add(time.Second)
		return now
	}

	_, report, err := discovery.New(client, discovery.WithClock(clock)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, start, report.StartedAt)
	assert.Equal(t, start.Add(time.Second), report.FinishedAt)
}
