package api

import (
	"context"
	"strconv"

	"google.golang.org/grpc"

	"github.com/rmax-ai/fhirgraph/pkg/graph"
)

// gripServer adapts graph.Service to the gripper protocol.
type gripServer struct {
	svc *graph.Service
}

var _ GRIPSourceServer = (*gripServer)(nil)

func (g *gripServer) GetCollections(_ *Empty, stream grpc.ServerStreamingServer[Collection]) error {
	err := g.svc.ListCollections(stream.Context(), func(name string) error {
		return stream.Send(&Collection{Name: name})
	})
	return toStatus(err)
}

func (g *gripServer) GetCollectionInfo(ctx context.Context, in *Collection) (*CollectionInfo, error) {
	info, err := g.svc.DescribeCollection(ctx, in.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CollectionInfo{SearchFields: info.SearchFields}, nil
}

func (g *gripServer) GetIDs(in *Collection, stream grpc.ServerStreamingServer[RowID]) error {
	err := g.svc.ListIDs(stream.Context(), in.Name, func(id string) error {
		return stream.Send(&RowID{ID: id})
	})
	return toStatus(err)
}

func (g *gripServer) GetRows(in *Collection, stream grpc.ServerStreamingServer[Row]) error {
	err := g.svc.ListRows(stream.Context(), in.Name, func(r graph.Row) error {
		return stream.Send(&Row{ID: r.ID, Data: r.Data})
	})
	return toStatus(err)
}

func (g *gripServer) GetRowsByField(in *FieldRequest, stream grpc.ServerStreamingServer[Row]) error {
	req := graph.FieldRequest{Collection: in.Collection, Field: in.Field, Value: in.Value}
	err := g.svc.GetByField(stream.Context(), req, func(r graph.Row) error {
		return stream.Send(&Row{ID: r.ID, Data: r.Data})
	})
	return toStatus(err)
}

func (g *gripServer) GetRowsByID(stream grpc.BidiStreamingServer[RowRequest, Row]) error {
	recv := func() (graph.RowRequest, error) {
		in, err := stream.Recv()
		if err != nil {
			return graph.RowRequest{}, err
		}
		return graph.RowRequest{
			Collection: in.Collection,
			ID:         in.ID,
			RequestID:  strconv.FormatUint(in.RequestID, 10),
		}, nil
	}
	emit := func(r graph.RowResponse) error {
		// always one of ours, formatted by recv above
		requestID, _ := strconv.ParseUint(r.RequestID, 10, 64)
		return stream.Send(&Row{ID: r.ID, Data: r.Data, RequestID: requestID})
	}
	return toStatus(g.svc.GetByID(stream.Context(), recv, emit))
}
