package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rmax-ai/fhirgraph/pkg/fhir"
	"github.com/rmax-ai/fhirgraph/pkg/schema"
)

// DefaultBatchConcurrency bounds how many GetByID requests of one stream are
// resolved at the same time. A stream holds one server worker slot, so any
// value above 1 lets upstream load exceed the worker count.
const DefaultBatchConcurrency = 1

// Source is the subset of the FHIR client the service needs.
type Source interface {
	ListAll(resourceType string) *fhir.Cursor
	FetchOne(ctx context.Context, resourceType, id string) (fhir.Resource, error)
	ScanByValue(resourceType, field, value string) *fhir.Cursor
	ScanNonEmpty(resourceType, field string) *fhir.Cursor
}

// Service answers graph queries by translating them into FHIR requests.
//
// The catalog and edge schema are fixed at construction and never mutated, so
// a Service can be shared by any number of concurrent requests. Streaming
// methods call emit for each row as soon as it is available and stop at the
// first emit error.
type Service struct {
	source           Source
	catalog          *fhir.CapabilityStatement
	edges            *schema.EdgeSchema
	batchConcurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithBatchConcurrency sets the per-stream GetByID concurrency.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchConcurrency = n
		}
	}
}

// NewService creates a Service over source using the given capability
// statement and edge schema.
func NewService(source Source, catalog *fhir.CapabilityStatement, edges *schema.EdgeSchema, opts ...Option) *Service {
	if edges == nil {
		edges = schema.New()
	}
	s := &Service{
		source:           source,
		catalog:          catalog,
		edges:            edges,
		batchConcurrency: DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, e := range edges.Entries() {
		if _, ok := catalog.Resource(e.SourceType); !ok {
			slog.Warn("edge_source_not_advertised", "collection", e.Collection(), "resource_type", e.SourceType)
		}
	}
	return s
}

// target is a resolved collection.
type target struct {
	schema.Collection
	def   fhir.ResourceDefinition
	edges edgeSet
}

func (s *Service) resolve(name string) (target, error) {
	c, err := schema.ParseCollection(name)
	if err != nil {
		return target{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if c.Kind == schema.VertexCollection {
		def, ok := s.catalog.Resource(c.Type)
		if !ok {
			return target{}, fmt.Errorf("%q: %w", name, ErrNotFound)
		}
		return target{Collection: c, def: def}, nil
	}

	dst, ok := s.edges.Target(c.Type, c.Field)
	if !ok {
		return target{}, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	entry := schema.Entry{SourceType: c.Type, Field: c.Field, TargetType: dst}
	return target{Collection: c, edges: newEdgeSet(entry)}, nil
}

// ListCollections emits every vertex collection, then every edge collection.
func (s *Service) ListCollections(ctx context.Context, emit func(string) error) error {
	for _, def := range s.catalog.Resources() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(def.Type); err != nil {
			return err
		}
	}
	for _, name := range s.edges.EdgeCollections() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(name); err != nil {
			return err
		}
	}
	return nil
}

// DescribeCollection returns the searchable fields of a collection.
func (s *Service) DescribeCollection(ctx context.Context, name string) (CollectionInfo, error) {
	t, err := s.resolve(name)
	if err != nil {
		return CollectionInfo{}, err
	}

	info := CollectionInfo{Name: name, Kind: t.Kind.String()}
	if t.Kind == schema.EdgeCollection {
		info.SearchFields = []string{FieldPath(t.edges.srcKey), FieldPath(t.edges.dstKey)}
		return info, nil
	}
	for _, p := range t.def.SearchParams {
		info.SearchFields = append(info.SearchFields, FieldPath(p.Name))
	}
	return info, nil
}

// ListIDs emits the id of every row in a collection.
func (s *Service) ListIDs(ctx context.Context, name string, emit func(string) error) error {
	return s.ListRows(ctx, name, func(r Row) error {
		return emit(r.ID)
	})
}

// ListRows emits every row in a collection. Vertex rows are the resources
// themselves; edge rows are synthesized from the source type's reference field.
func (s *Service) ListRows(ctx context.Context, name string, emit func(Row) error) error {
	t, err := s.resolve(name)
	if err != nil {
		return err
	}

	if t.Kind == schema.VertexCollection {
		return drain(ctx, s.source.ListAll(t.Type), func(res fhir.Resource) error {
			return emit(Row{ID: res.ID, Data: res.Raw})
		})
	}

	return drain(ctx, s.source.ScanNonEmpty(t.Type, t.Field), func(res fhir.Resource) error {
		return t.edges.emitAll(res, nil, emit)
	})
}

// GetByField emits the rows of a collection whose field equals value.
//
// On edge collections the field picks the direction. The source side costs a
// single read of the source resource. The target side has no reverse index
// on the server and scans every source resource holding the reference field.
func (s *Service) GetByField(ctx context.Context, req FieldRequest, emit func(Row) error) error {
	t, err := s.resolve(req.Collection)
	if err != nil {
		return err
	}
	field := trimFieldPath(req.Field)

	if t.Kind == schema.VertexCollection {
		if !t.def.HasSearchParam(field) {
			return fmt.Errorf("%w: %q is not a search field of %s", ErrInvalidArgument, req.Field, t.Name)
		}
		return drain(ctx, s.source.ScanByValue(t.Type, field, req.Value), func(res fhir.Resource) error {
			return emit(Row{ID: res.ID, Data: res.Raw})
		})
	}

	switch field {
	case t.edges.srcKey:
		res, err := s.source.FetchOne(ctx, t.Type, req.Value)
		if errors.Is(err, fhir.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return t.edges.emitAll(res, nil, emit)

	case t.edges.dstKey:
		keep := func(ref fhir.Reference) bool { return ref.ID == req.Value }
		return drain(ctx, s.source.ScanNonEmpty(t.Type, t.Field), func(res fhir.Resource) error {
			return t.edges.emitAll(res, keep, emit)
		})

	default:
		return fmt.Errorf("%w: %q is not a search field of %s", ErrInvalidArgument, req.Field, t.Name)
	}
}

// GetByID resolves a stream of row requests. recv returns io.EOF when the
// caller is done. Requests are resolved concurrently, so responses may come
// back in any order; each one carries its request's RequestID. Unknown ids
// and stale edge ids produce no response.
func (s *Service) GetByID(ctx context.Context, recv func() (RowRequest, error), emit func(RowResponse) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchConcurrency)

	var mu sync.Mutex
	send := func(r RowResponse) error {
		mu.Lock()
		defer mu.Unlock()
		return emit(r)
	}

	// recv may block until the caller sends or hangs up, so it runs apart
	// from the workers and from the loop that watches for their failure.
	reqs := make(chan RowRequest)
	recvErr := make(chan error, 1)
	go func() {
		defer close(reqs)
		for {
			req, err := recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					recvErr <- err
				}
				return
			}
			select {
			case reqs <- req:
			case <-gctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case req, ok := <-reqs:
			if !ok {
				break loop
			}
			g.Go(func() error {
				row, found, err := s.lookup(gctx, req)
				if err != nil || !found {
					return err
				}
				return send(RowResponse{Row: row, RequestID: req.RequestID})
			})
		case <-gctx.Done():
			break loop
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	select {
	case err := <-recvErr:
		return err
	default:
		return ctx.Err()
	}
}

func (s *Service) lookup(ctx context.Context, req RowRequest) (Row, bool, error) {
	t, err := s.resolve(req.Collection)
	if err != nil {
		return Row{}, false, err
	}

	if t.Kind == schema.VertexCollection {
		res, err := s.source.FetchOne(ctx, t.Type, req.ID)
		if errors.Is(err, fhir.ErrNotFound) {
			return Row{}, false, nil
		}
		if err != nil {
			return Row{}, false, err
		}
		return Row{ID: res.ID, Data: res.Raw}, true, nil
	}

	id, err := schema.ParseEdgeID(req.ID)
	if err != nil {
		slog.Debug("malformed_edge_id", "collection", req.Collection, "id", req.ID, "error", err)
		return Row{}, false, nil
	}
	if id.SourceType != t.edges.SourceType || id.Field != t.edges.Field || id.TargetType != t.edges.TargetType {
		slog.Debug("edge_id_collection_mismatch", "collection", req.Collection, "id", req.ID)
		return Row{}, false, nil
	}

	// the id alone describes the edge, but the source is re-read so that
	// ids for references that have since been removed resolve to nothing
	res, err := s.source.FetchOne(ctx, id.SourceType, id.SourceID)
	if errors.Is(err, fhir.ErrNotFound) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}

	for _, ref := range t.edges.targets(res) {
		if ref.ID == id.TargetID {
			row, err := t.edges.row(id.SourceID, id.TargetID)
			if err != nil {
				return Row{}, false, err
			}
			row.ID = req.ID
			return row, true, nil
		}
	}
	return Row{}, false, nil
}

func drain(ctx context.Context, cur *fhir.Cursor, fn func(fhir.Resource) error) error {
	for cur.Next(ctx) {
		if err := fn(cur.Resource()); err != nil {
			return err
		}
	}
	return cur.Err()
}
