package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rmax-ai/fhirgraph/pkg/fhir"
	"github.com/rmax-ai/fhirgraph/pkg/graph"
)

// toStatus maps service errors onto gRPC status codes. Errors that already
// carry a status, such as failed stream sends, pass through unchanged.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	// context errors first: a canceled upstream call also matches ErrUnavailable
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, graph.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, graph.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, fhir.ErrUnavailable):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
