package cmd

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/fhirgraph/pkg/api"
	"github.com/rmax-ai/fhirgraph/pkg/discovery"
	"github.com/rmax-ai/fhirgraph/pkg/fhir"
	"github.com/rmax-ai/fhirgraph/pkg/fhir/fhirtest"
	"github.com/rmax-ai/fhirgraph/pkg/graph"
	"github.com/rmax-ai/fhirgraph/pkg/schema"
	"github.com/rmax-ai/fhirgraph/pkg/store"
	"github.com/rmax-ai/fhirgraph/pkg/store/redis"
)

func newFHIR(t *testing.T) (*fhirtest.Server, *fhir.CapabilityStatement) {
	t.Helper()
	catalog := fhir.NewCapabilityStatement(
		fhirtest.Definition("Patient", "name:string"),
		fhirtest.Definition("Observation", "code:token", "subject:reference"),
	)
	src := fhirtest.NewServer(catalog)
	t.Cleanup(src.Close)
	src.Add(
		fhirtest.Resource("Patient", "p1", map[string]any{"name": "Ada"}),
		fhirtest.Resource("Patient", "p2", map[string]any{"name": "Bo"}),
		fhirtest.Resource("Observation", "o1", map[string]any{"code": "bp", "subject": fhirtest.Ref("Patient/p1")}),
		fhirtest.Resource("Observation", "o2", map[string]any{"code": "hr", "subject": fhirtest.Ref("Patient/p2")}),
	)
	return src, catalog
}

func writeConfig(t *testing.T, dir, api string) string {
	t.Helper()
	path := filepath.Join(dir, "fhir.yaml")
	require.NoError(t, os.WriteFile(path, []byte("FHIR_API: "+api+"\n"), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestDiscover_WritesAndPublishes(t *testing.T) {
	src, _ := newFHIR(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, src.URL)
	mr := miniredis.RunT(t)

	out := filepath.Join(dir, "edges.yaml")
	model := filepath.Join(dir, "graph.yaml")
	db := filepath.Join(dir, "runs.db")

	_, stderr, err := execute(t, "discover", "-c", cfg, "-o", out,
		"--graph-model", model, "--report-db", db, "--redis-addr", mr.Addr())
	require.NoError(t, err)
	assert.Contains(t, stderr, "1 accepted")

	edges, err := schema.Load(out)
	require.NoError(t, err)
	target, ok := edges.Target("Observation", "subject")
	assert.True(t, ok)
	assert.Equal(t, "Patient", target)

	data, err := os.ReadFile(model)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Observation:subject:edges")

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	published, err := redis.NewSchemaStore(rdb, "").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, edges.Entries(), published.Entries())

	lease, err := redis.NewLeaseStore(rdb).Get(context.Background(), discovery.LockName(src.URL+"/"))
	require.NoError(t, err)
	assert.Nil(t, lease, "lock must be released after the run")

	st, err := store.NewStore(db)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Accepted)
}

func TestDiscover_PartialRunKeepsOldSchema(t *testing.T) {
	src, _ := newFHIR(t)
	src.Fail("Observation", http.StatusBadGateway)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, src.URL)
	out := filepath.Join(dir, "edges.yaml")
	db := filepath.Join(dir, "runs.db")

	_, _, err := execute(t, "discover", "-c", cfg, "-o", out, "--report-db", db)
	assert.ErrorIs(t, err, ErrPartialDiscovery)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "schema must not be written")

	st, err := store.NewStore(db)
	require.NoError(t, err)
	defer st.Close()
	report, err := st.LatestReport(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(discovery.OutcomeFailed))

	_, _, err = execute(t, "discover", "-c", cfg, "-o", out, "--allow-partial")
	require.NoError(t, err)
	_, statErr = os.Stat(out)
	assert.NoError(t, statErr)
}

func TestDiscover_LockHeldElsewhere(t *testing.T) {
	src, _ := newFHIR(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, src.URL)
	db := filepath.Join(dir, "runs.db")

	st, err := store.NewStore(db)
	require.NoError(t, err)
	ok, err := st.Acquire(context.Background(), discovery.LockName(src.URL+"/"), "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.Close())

	_, _, err = execute(t, "discover", "-c", cfg, "-o", "-", "--report-db", db)
	assert.ErrorIs(t, err, discovery.ErrLocked)
}

func TestDiscover_Stdout(t *testing.T) {
	src, _ := newFHIR(t)
	cfg := writeConfig(t, t.TempDir(), src.URL)

	stdout, _, err := execute(t, "discover", "-c", cfg, "-o", "-")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Observation:")
	assert.Contains(t, stdout, "subject: Patient")
}

func startDaemon(t *testing.T) string {
	t.Helper()
	src, catalog := newFHIR(t)
	edges := schema.New()
	edges.Set("Observation", "subject", "Patient")

	fc, err := fhir.NewClient(src.URL)
	require.NoError(t, err)
	srv := api.NewServer(graph.NewService(fc, catalog, edges), api.Config{})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(lis)
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return lis.Addr().String()
}

func TestQueryCommands(t *testing.T) {
	target := startDaemon(t)

	stdout, _, err := execute(t, "collections", "-t", target)
	require.NoError(t, err)
	assert.Equal(t, "Patient\nObservation\nObservation:subject:edges\n", stdout)

	stdout, _, err = execute(t, "describe", "-t", target, "Observation:subject:edges")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"$.Patient"`)

	stdout, _, err = execute(t, "rows", "-t", target, "Patient", "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(stdout, "\n"))
	assert.Contains(t, stdout, `"p1"`)

	stdout, _, err = execute(t, "rows", "-t", target, "Patient", "--ids")
	require.NoError(t, err)
	assert.Equal(t, "p1\np2\n", stdout)

	stdout, stderr, err := execute(t, "get", "-t", target, "Patient", "p2", "ghost")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"p2"`)
	assert.Contains(t, stderr, "1 of 2 ids not found")

	stdout, _, err = execute(t, "field", "-t", target, "Observation:subject:edges", "$.Patient", "p2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Observation/o2:subject:Patient/p2")

	_, _, err = execute(t, "describe", "-t", target, "Nope")
	assert.Error(t, err)
}

func TestSchemaShow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edges.yaml")
	edges := schema.New()
	edges.Set("Observation", "subject", "Patient")
	require.NoError(t, edges.Save(path))

	stdout, _, err := execute(t, "schema", "show", "--schema", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "# Observation:subject:edges")

	_, _, err = execute(t, "schema", "history")
	assert.Error(t, err)
}

func TestReportCommands(t *testing.T) {
	src, _ := newFHIR(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, src.URL)
	db := filepath.Join(dir, "runs.db")

	_, _, err := execute(t, "discover", "-c", cfg, "-o", filepath.Join(dir, "edges.yaml"), "--report-db", db)
	require.NoError(t, err)

	stdout, _, err := execute(t, "report", "list", "--report-db", db, "--format", "csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "run_id,source_url"))
	assert.True(t, strings.HasSuffix(lines[1], ",1,0,0,0"))

	stdout, _, err = execute(t, "report", "show", "--report-db", db, "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, stdout, "source "+src.URL+"/")
	assert.Contains(t, stdout, "accepted")

	_, _, err = execute(t, "report", "show", "--report-db", db, "no-such-run")
	assert.ErrorIs(t, err, store.ErrNoRuns)

	_, _, err = execute(t, "report", "list", "--report-db", db, "--format", "xml")
	assert.Error(t, err)
}
