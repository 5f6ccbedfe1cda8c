package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rmax-ai/fhirgraph/pkg/graph"
)

// DefaultWorkers caps concurrently executing RPCs.
const DefaultWorkers = 100

// Config holds the listener settings.
type Config struct {
	// Addr is the gRPC listen address.
	Addr string
	// MetricsAddr serves /metrics and /v1/health. Empty disables it.
	MetricsAddr string
	// Workers caps concurrently executing RPCs; <= 0 means DefaultWorkers.
	Workers int
}

// Server runs the gripper gRPC service plus a small HTTP side listener.
type Server struct {
	cfg   Config
	grpc  *grpc.Server
	http  *http.Server
	model *graph.Model
}

// NewServer creates a server answering queries with svc.
func NewServer(svc *graph.Service, cfg Config, opts ...grpc.ServerOption) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	lim := newLimiter(cfg.Workers)

	// observers run outside the limiter so waiting RPCs are logged too
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unaryObserver, lim.unary),
		grpc.ChainStreamInterceptor(streamObserver, lim.stream),
	}, opts...)

	gs := grpc.NewServer(opts...)
	RegisterGRIPSourceServer(gs, &gripServer{svc: svc})

	s := &Server{cfg: cfg, grpc: gs}
	if cfg.MetricsAddr != "" {
		s.http = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      s.Handler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  15 * time.Second,
		}
	}
	return s
}

// SetModel exposes the graph model at /v1/model.
func (s *Server) SetModel(m *graph.Model) {
	s.model = m
}

// Handler returns the HTTP side listener's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", handleHealth)
	mux.HandleFunc("/v1/model", s.handleModel)
	mux.Handle("/metrics", promhttp.Handler())
	return withRecovery(withLogging(withSecureHeaders(mux)))
}

// Serve runs the gRPC service on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("grpc_server_starting", "addr", lis.Addr().String(), "workers", s.cfg.Workers)
	return s.grpc.Serve(lis)
}

// Start listens on the configured addresses and blocks until both
// listeners have stopped.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	var g errgroup.Group
	g.Go(func() error {
		return s.Serve(lis)
	})
	if s.http != nil {
		g.Go(func() error {
			slog.Info("http_server_starting", "addr", s.http.Addr)
			if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Stop drains in-flight RPCs, or cuts them off when ctx ends first.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("server_stopping")

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	var httpErr error
	if s.http != nil {
		httpErr = s.http.Shutdown(ctx)
	}

	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
	return httpErr
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.model == nil {
		http.Error(w, `{"error":"not_found","reason":"no_graph_model"}`, http.StatusNotFound)
		return
	}
	data, err := s.model.Marshal()
	if err != nil {
		slog.Error("failed_to_marshal_model", "trace_id", getTraceID(r.Context()), "error", err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

// handleHealth returns simple status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Middleware: Panic Recovery
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic_recovered", "error", err, "path", r.URL.Path)
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Middleware: Request Logging
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		ctx := r.Context()
		if traceID == "" {
			ctx, traceID = withTraceID(ctx)
		} else {
			ctx = context.WithValue(ctx, traceIDKey, traceID)
		}
		r = r.WithContext(ctx)

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		slog.Debug("http_request",
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// statusWriter captures HTTP status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware: Secure Headers
func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
