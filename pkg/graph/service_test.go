package graph_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/fhirgraph/pkg/fhir"
	"github.com/rmax-ai/fhirgraph/pkg/fhir/fhirtest"
	"github.com/rmax-ai/fhirgraph/pkg/graph"
	"github.com/rmax-ai/fhirgraph/pkg/schema"
)

type fixture struct {
	srv     *fhirtest.Server
	client  *fhir.Client
	catalog *fhir.CapabilityStatement
	edges   *schema.EdgeSchema
	svc     *graph.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog := fhir.NewCapabilityStatement(
		fhirtest.Definition("Patient", "name:string", "link:reference"),
		fhirtest.Definition("Practitioner", "name:string"),
		fhirtest.Definition("Observation", "code:token", "subject:reference", "performer:reference"),
	)

	srv := fhirtest.NewServer(catalog)
	t.Cleanup(srv.Close)
	srv.Add(
		fhirtest.Resource("Patient", "p1", map[string]any{"name": "Ada"}),
		fhirtest.Resource("Patient", "p2", map[string]any{"name": "Bo", "link": fhirtest.Ref("Patient/p1")}),
		fhirtest.Resource("Practitioner", "dr1", nil),
		fhirtest.Resource("Observation", "o1", map[string]any{
			"code":      "bp",
			"subject":   fhirtest.Ref("Patient/p1"),
			"performer": fhirtest.Refs("Practitioner/dr1", "Organization/org1"),
		}),
		fhirtest.Resource("Observation", "o2", map[string]any{"code": "hr", "subject": fhirtest.Refs("Patient/p2")}),
		fhirtest.Resource("Observation", "o3", map[string]any{"code": "bp", "subject": fhirtest.Ref("Patient/p1")}),
		fhirtest.Resource("Observation", "o4", map[string]any{"code": "rr"}),
		fhirtest.Resource("Observation", "o5", map[string]any{"code": "bp", "subject": fhirtest.Ref("Group/g1")}),
	)

	edges := schema.New()
	edges.Set("Observation", "subject", "Patient")
	edges.Set("Observation", "performer", "Practitioner")
	edges.Set("Patient", "link", "Patient")

	client, err := fhir.NewClient(srv.URL)
	require.NoError(t, err)

	return &fixture{
		srv:     srv,
		client:  client,
		catalog: catalog,
		edges:   edges,
		svc:     graph.NewService(client, catalog, edges),
	}
}

func collectRows(t *testing.T, fn func(emit func(graph.Row) error) error) []graph.Row {
	t.Helper()
	var rows []graph.Row
	require.NoError(t, fn(func(r graph.Row) error {
		rows = append(rows, r)
		return nil
	}))
	return rows
}

func rowIDs(rows []graph.Row) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestListCollections(t *testing.T) {
	f := newFixture(t)

	var names []string
	err := f.svc.ListCollections(context.Background(), func(name string) error {
		names = append(names, name)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Patient",
		"Practitioner",
		"Observation",
		"Observation:performer:edges",
		"Observation:subject:edges",
		"Patient:link:edges",
	}, names)
}

func TestDescribeCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.svc.DescribeCollection(ctx, "Observation")
	require.NoError(t, err)
	assert.Equal(t, "vertex", info.Kind)
	assert.Equal(t, []string{"$.code", "$.subject", "$.performer"}, info.SearchFields)

	info, err = f.svc.DescribeCollection(ctx, "Observation:subject:edges")
	require.NoError(t, err)
	assert.Equal(t, "edge", info.Kind)
	assert.Equal(t, []string{"$.Observation", "$.Patient"}, info.SearchFields)

	info, err = f.svc.DescribeCollection(ctx, "Patient:link:edges")
	require.NoError(t, err)
	assert.Equal(t, []string{"$.Patient", "$.link"}, info.SearchFields)

	_, err = f.svc.DescribeCollection(ctx, "Medication")
	assert.ErrorIs(t, err, graph.ErrNotFound)

	_, err = f.svc.DescribeCollection(ctx, "Observation:code:edges")
	assert.ErrorIs(t, err, graph.ErrNotFound)

	_, err = f.svc.DescribeCollection(ctx, "Observation:subject")
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

func TestListRows_Vertex(t *testing.T) {
	f := newFixture(t)

	rows := collectRows(t, func(emit func(graph.Row) error) error {
		return f.svc.ListRows(context.Background(), "Patient", emit)
	})

	require.Len(t, rows, 2)
	assert.Equal(t, "p1", rows[0].ID)
	assert.JSONEq(t, `{"resourceType": "Patient", "id": "p1", "name": "Ada"}`, string(rows[0].Data))
}

func TestListRows_VertexPagination(t *testing.T) {
	f := newFixture(t)
	f.srv.SetPageSize(1) // p1 | p2 | end
	f.srv.Add(fhirtest.Resource("Patient", "p3", nil))

	var ids []string
	err := f.svc.ListIDs(context.Background(), "Patient", func(id string) error {
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p2", "p3"}, ids)
	assert.Equal(t, 3, f.srv.Count("/Patient"))
}

func TestListRows_EdgeCollection(t *testing.T) {
	f := newFixture(t)

	rows := collectRows(t, func(emit func(graph.Row) error) error {
		return f.svc.ListRows(context.Background(), "Observation:subject:edges", emit)
	})

	// o5 points at a Group, o4 has no subject; single object and list of one
	// normalize to one edge each
	assert.Equal(t, []string{
		"Observation/o1:subject:Patient/p1",
		"Observation/o2:subject:Patient/p2",
		"Observation/o3:subject:Patient/p1",
	}, rowIDs(rows))
	assert.JSONEq(t, `{"Observation": "o1", "Patient": "p1"}`, string(rows[0].Data))

	q := f.srv.Requests()[0].Query()
	assert.Equal(t, "false", q.Get("subject:missing"))
	assert.Equal(t, "subject", q.Get("_elements"))
}

func TestListRows_SelfReferencingEdge(t *testing.T) {
	f := newFixture(t)

	rows := collectRows(t, func(emit func(graph.Row) error) error {
		return f.svc.ListRows(context.Background(), "Patient:link:edges", emit)
	})

	require.Len(t, rows, 1)
	assert.Equal(t, "Patient/p2:link:Patient/p1", rows[0].ID)
	assert.JSONEq(t, `{"Patient": "p2", "link": "p1"}`, string(rows[0].Data))
}

func TestListIDs_Edge(t *testing.T) {
	f := newFixture(t)

	var ids []string
	err := f.svc.ListIDs(context.Background(), "Observation:performer:edges", func(id string) error {
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Observation/o1:performer:Practitioner/dr1"}, ids)
}

func TestListRows_CancelStopsPaging(t *testing.T) {
	f := newFixture(t)
	f.srv.Add(
		fhirtest.Resource("Patient", "p3", nil),
		fhirtest.Resource("Patient", "p4", nil),
		fhirtest.Resource("Patient", "p5", nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []string
	err := f.svc.ListRows(ctx, "Patient", func(r graph.Row) error {
		ids = append(ids, r.ID)
		if len(ids) == 2 {
			cancel()
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"p1", "p2"}, ids)
	assert.Equal(t, 1, f.srv.Count("/Patient"), "no page may be requested after cancellation")
}

func TestListRows_UpstreamFailureKeepsPartialRows(t *testing.T) {
	f := newFixture(t)
	f.srv.Add(fhirtest.Resource("Patient", "p3", nil))
	f.srv.FailPage("Patient", 2, http.StatusServiceUnavailable)

	var ids []string
	err := f.svc.ListIDs(context.Background(), "Patient", func(id string) error {
		ids = append(ids, id)
		return nil
	})

	assert.ErrorIs(t, err, fhir.ErrUnavailable)
	assert.Equal(t, []string{"p1", "p2"}, ids)
}

func TestListRows_EmitErrorStops(t *testing.T) {
	f := newFixture(t)
	stop := assert.AnError

	calls := 0
	err := f.svc.ListRows(context.Background(), "Observation", func(graph.Row) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestListRows_UnknownCollection(t *testing.T) {
	f := newFixture(t)
	noop := func(graph.Row) error { return nil }

	assert.ErrorIs(t, f.svc.ListRows(context.Background(), "Medication", noop), graph.ErrNotFound)
	assert.ErrorIs(t, f.svc.ListRows(context.Background(), "a:b:c:edges", noop), graph.ErrInvalidArgument)
	assert.Empty(t, f.srv.Requests())
}

func TestGetByField_EdgeSourceSide(t *testing.T) {
	f := newFixture(t)

	rows := collectRows(t, func(emit func(graph.Row) error) error {
		return f.svc.GetByField(context.Background(), graph.FieldRequest{
			Collection: "Observation:performer:edges",
			Field:      "$.Observation",
			Value:      "o1",
		}, emit)
	})

	assert.Equal(t, []string{"Observation/o1:performer:Practitioner/dr1"}, rowIDs(rows))
	assert.JSONEq(t, `{"Observation": "o1", "Practitioner": "dr1"}`, string(rows[0].Data))

	reqs := f.srv.Requests()
	require.Len(t, reqs, 1, "source side lookups must not scan")
	assert.Equal(t, "/Observation/o1", reqs[0].Path)
}

func TestGetByField_EdgeSourceSideUnknownID(t *testing.T) {
	f := newFixture(t)

	rows := collectRows(t, func(emit func(graph.Row) error) error {
		return f.svc.GetByField(context.Background(), graph.FieldRequest{
			Collection: "Observation:subject:edges",
			Field:      "Observation",
			Value:      "nope",
		}, emit)
	})
	assert.Empty(t, rows)
}

func TestGetByField_EdgeTargetSideScans(t *testing.T) {
	f := newFixture(t)

	rows := collectRows(t, func(emit func(graph.Row) error) error {
		return f.svc.GetByField(context.Background(), graph.FieldRequest{
			Collection: "Observation:subject:edges",
			Field:      "$.Patient",
			Value:      "p1",
		}, emit)
	})

	assert.Equal(t, []string{
		"Observation/o1:subject:Patient/p1",
		"Observation/o3:subject:Patient/p1",
	}, rowIDs(rows))

	// every page of the source collection was scanned
	for _, u := range f.srv.Requests() {
		assert.Equal(t, "/Observation", u.Path)
		assert.Equal(t, "false", u.Query().Get("subject:missing"))
	}
	assert.Equal(t, 2, f.srv.Count("/Observation"))
}

func TestGetByField_SelfEdgeTargetSide(t *testing.T) {
	f := newFixture(t)

	rows := collectRows(t, func(emit func(graph.Row) error) error {
		return f.svc.GetByField(context.Background(), graph.FieldRequest{
			Collection: "Patient:link:edges",
			Field:      "$.link",
			Value:      "p1",
		}, emit)
	})
	assert.Equal(t, []string{"Patient/p2:link:Patient/p1"}, rowIDs(rows))
}

func TestGetByField_EdgeInvalidField(t *testing.T) {
	f := newFixture(t)

	err := f.svc.GetByField(context.Background(), graph.FieldRequest{
		Collection: "Observation:subject:edges",
		Field:      "$.Practitioner",
		Value:      "dr1",
	}, func(graph.Row) error { return nil })

	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

func TestGetByField_Vertex(t *testing.T) {
	f := newFixture(t)

	rows := collectRows(t, func(emit func(graph.Row) error) error {
		return f.svc.GetByField(context.Background(), graph.FieldRequest{
			Collection: "Observation",
			Field:      "$.code",
			Value:      "bp",
		}, emit)
	})
	assert.Equal(t, []string{"o1", "o3", "o5"}, rowIDs(rows))

	err := f.svc.GetByField(context.Background(), graph.FieldRequest{
		Collection: "Observation",
		Field:      "status",
		Value:      "final",
	}, func(graph.Row) error { return nil })
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

// requestsOf turns a slice into a recv function.
func requestsOf(reqs ...graph.RowRequest) func() (graph.RowRequest, error) {
	var mu sync.Mutex
	return func() (graph.RowRequest, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(reqs) == 0 {
			return graph.RowRequest{}, io.EOF
		}
		r := reqs[0]
		reqs = reqs[1:]
		return r, nil
	}
}

func collectResponses(t *testing.T, svc *graph.Service, reqs ...graph.RowRequest) map[string]graph.RowResponse {
	t.Helper()
	var mu sync.Mutex
	out := make(map[string]graph.RowResponse)
	err := svc.GetByID(context.Background(), requestsOf(reqs...), func(r graph.RowResponse) error {
		mu.Lock()
		defer mu.Unlock()
		_, dup := out[r.RequestID]
		assert.False(t, dup, "duplicate response for %s", r.RequestID)
		out[r.RequestID] = r
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestGetByID_EchoesCorrelationTokens(t *testing.T) {
	f := newFixture(t)

	got := collectResponses(t, f.svc,
		graph.RowRequest{Collection: "Patient", ID: "p1", RequestID: "t1"},
		graph.RowRequest{Collection: "Observation:subject:edges", ID: "Observation/o2:subject:Patient/p2", RequestID: "t2"},
		graph.RowRequest{Collection: "Observation", ID: "o3", RequestID: "t3"},
	)

	require.Len(t, got, 3)
	assert.Equal(t, "p1", got["t1"].ID)
	assert.Equal(t, "Observation/o2:subject:Patient/p2", got["t2"].ID)
	assert.JSONEq(t, `{"Observation": "o2", "Patient": "p2"}`, string(got["t2"].Data))
	assert.Equal(t, "o3", got["t3"].ID)
	assert.JSONEq(t, `{"resourceType": "Observation", "id": "o3", "code": "bp", "subject": {"reference": "Patient/p1"}}`, string(got["t3"].Data))
}

// peakSource records the highest number of FetchOne calls in flight.
type peakSource struct {
	graph.Source
	inflight atomic.Int32
	peak     atomic.Int32
}

func (p *peakSource) FetchOne(ctx context.Context, resourceType, id string) (fhir.Resource, error) {
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return p.Source.FetchOne(ctx, resourceType, id)
}

func TestGetByID_ConcurrencyBound(t *testing.T) {
	f := newFixture(t)

	var reqs []graph.RowRequest
	for i, id := range []string{"o1", "o2", "o3", "o4", "o5", "p1", "p2", "ghost"} {
		coll := "Observation"
		if id[0] == 'p' || id == "ghost" {
			coll = "Patient"
		}
		reqs = append(reqs, graph.RowRequest{Collection: coll, ID: id, RequestID: string(rune('a' + i))})
	}

	src := &peakSource{Source: f.client}
	got := collectResponses(t, graph.NewService(src, f.catalog, f.edges), reqs...)
	assert.Len(t, got, 7)
	assert.Equal(t, int32(1), src.peak.Load(), "default resolves one request of a stream at a time")

	src = &peakSource{Source: f.client}
	got = collectResponses(t, graph.NewService(src, f.catalog, f.edges, graph.WithBatchConcurrency(3)), reqs...)
	assert.Len(t, got, 7)
	assert.LessOrEqual(t, src.peak.Load(), int32(3))
}

func TestGetByID_MissingAndStaleYieldNothing(t *testing.T) {
	f := newFixture(t)

	got := collectResponses(t, f.svc,
		graph.RowRequest{Collection: "Patient", ID: "ghost", RequestID: "missing"},
		graph.RowRequest{Collection: "Observation:subject:edges", ID: "Observation/o1:subject:Patient/p2", RequestID: "stale"},
		graph.RowRequest{Collection: "Observation:subject:edges", ID: "Observation/o9:subject:Patient/p1", RequestID: "gone"},
		graph.RowRequest{Collection: "Observation:subject:edges", ID: "not-an-edge", RequestID: "garbled"},
		graph.RowRequest{Collection: "Observation:subject:edges", ID: "Observation/o1:performer:Practitioner/dr1", RequestID: "wrong-collection"},
		graph.RowRequest{Collection: "Observation:performer:edges", ID: "Observation/o1:performer:Practitioner/dr1", RequestID: "ok"},
	)

	keys := make([]string, 0, len(got))
	for k := range got {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"ok"}, keys)
}

func TestGetByID_UnknownCollectionFailsStream(t *testing.T) {
	f := newFixture(t)

	err := f.svc.GetByID(context.Background(),
		requestsOf(graph.RowRequest{Collection: "Medication", ID: "m1", RequestID: "x"}),
		func(graph.RowResponse) error { return nil },
	)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestGetByID_RecvErrorIsReturned(t *testing.T) {
	f := newFixture(t)

	err := f.svc.GetByID(context.Background(),
		func() (graph.RowRequest, error) { return graph.RowRequest{}, assert.AnError },
		func(graph.RowResponse) error { return nil },
	)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGetByID_UpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.Fail("Patient/p1", http.StatusBadGateway)

	err := f.svc.GetByID(context.Background(),
		requestsOf(graph.RowRequest{Collection: "Patient", ID: "p1", RequestID: "x"}),
		func(graph.RowResponse) error { return nil },
	)
	assert.ErrorIs(t, err, fhir.ErrUnavailable)
}

func TestRowJSON(t *testing.T) {
	resp := graph.RowResponse{Row: graph.Row{ID: "p1", Data: json.RawMessage(`{"a":1}`)}, RequestID: "t1"}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "p1", "data": {"a": 1}, "request_id": "t1"}`, string(data))
}
