// Package api serves the breadth ledger over HTTP and gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"mbi/internal/breadth"
	"mbi/internal/config"
	"mbi/internal/domain"
	"mbi/internal/metrics"
)

// Records is the read side of the ledger.
type Records interface {
	Get(date time.Time) (domain.BreadthRecord, bool)
	Latest() (domain.BreadthRecord, bool)
	Range(start, end time.Time) []domain.BreadthRecord
	All() []domain.BreadthRecord
	Len() int
}

// Server hosts the HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	http     *http.Server
	grpc     *grpc.Server
	health   *health.Server
	log      *slog.Logger
}

// NewServer creates a Server configured from cfg.
func NewServer(cfg *config.Config, recs Records, schema breadth.Schema, m *metrics.Metrics) *Server {
	s := &Server{
		httpAddr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		log:      slog.Default().With("component", "api"),
	}
	if cfg.Server.GRPCPort > 0 {
		s.grpcAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	}

	debug := cfg.Logging.Level == "debug"
	s.http = &http.Server{
		Addr:              s.httpAddr,
		Handler:           NewHTTPHandler(recs, schema, m, debug),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.grpc = grpc.NewServer()
	RegisterBreadthServer(s.grpc, NewBreadthService(recs, schema))
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(BreadthServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 2)

	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", s.grpcAddr, err)
		}
		go func() {
			s.log.Info("grpc listening", "addr", s.grpcAddr)
			if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	go func() {
		s.log.Info("http listening", "addr", s.httpAddr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(sctx)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return err
	}
}

// Shutdown stops both servers, letting in-flight requests finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	err := s.http.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	s.log.Info("api stopped")
	return err
}
