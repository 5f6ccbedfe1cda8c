package api

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// traceHeader is read from incoming metadata so a host can correlate its
// own logs with ours.
const traceHeader = "x-trace-id"

func methodName(fullMethod string) string {
	return path.Base(fullMethod)
}

func withTraceID(ctx context.Context) (context.Context, string) {
	var traceID string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(traceHeader); len(v) > 0 {
			traceID = v[0]
		}
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return context.WithValue(ctx, traceIDKey, traceID), traceID
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// limiter caps how many RPCs execute at once. Callers beyond the cap wait
// for a slot until their context ends.
type limiter struct {
	sem *semaphore.Weighted
}

func newLimiter(n int) *limiter {
	return &limiter{sem: semaphore.NewWeighted(int64(n))}
}

func (l *limiter) acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return status.FromContextError(err).Err()
	}
	Inflight.Inc()
	return nil
}

func (l *limiter) release() {
	Inflight.Dec()
	l.sem.Release(1)
}

func (l *limiter) unary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return handler(ctx, req)
}

func (l *limiter) stream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := l.acquire(ss.Context()); err != nil {
		return err
	}
	defer l.release()
	return handler(srv, ss)
}

// observe logs and records metrics for a finished RPC.
func observe(ctx context.Context, method string, start time.Time, rows int, err error) {
	code := status.Code(err)
	duration := time.Since(start)
	RPCRequests.WithLabelValues(method, code.String()).Inc()
	RPCDuration.WithLabelValues(method).Observe(duration.Seconds())

	attrs := []any{"trace_id", getTraceID(ctx), "method", method, "code", code.String(), "duration_ms", duration.Milliseconds()}
	if rows > 0 {
		attrs = append(attrs, "rows", rows)
	}
	switch code {
	case codes.OK, codes.NotFound, codes.Canceled:
		slog.Info("rpc", attrs...)
	case codes.InvalidArgument:
		slog.Warn("rpc", append(attrs, "error", err)...)
	default:
		slog.Error("rpc", append(attrs, "error", err)...)
	}
}

func unaryObserver(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	ctx, _ = withTraceID(ctx)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic_recovered", "trace_id", getTraceID(ctx), "method", info.FullMethod, "error", r)
			err = status.Error(codes.Internal, fmt.Sprint(r))
		}
		observe(ctx, methodName(info.FullMethod), start, 0, err)
	}()
	return handler(ctx, req)
}

// countingStream counts messages sent and carries the traced context.
type countingStream struct {
	grpc.ServerStream
	ctx  context.Context
	sent int
}

func (s *countingStream) Context() context.Context {
	return s.ctx
}

func (s *countingStream) SendMsg(m any) error {
	if err := s.ServerStream.SendMsg(m); err != nil {
		return err
	}
	s.sent++
	return nil
}

func streamObserver(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	ctx, _ := withTraceID(ss.Context())
	cs := &countingStream{ServerStream: ss, ctx: ctx}
	method := methodName(info.FullMethod)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic_recovered", "trace_id", getTraceID(ctx), "method", info.FullMethod, "error", r)
			err = status.Error(codes.Internal, fmt.Sprint(r))
		}
		if cs.sent > 0 && method != "GetCollections" {
			RowsSent.WithLabelValues(method).Add(float64(cs.sent))
		}
		observe(ctx, method, start, cs.sent, err)
	}()
	return handler(srv, cs)
}
