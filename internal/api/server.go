package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"Go2NetCapture/internal/capture"
	"Go2NetCapture/internal/config"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 5 * time.Second

// Server runs the HTTP API and the gRPC health endpoint.
type Server struct {
	cfg    config.APIConfig
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
	log    *zap.SugaredLogger
}

// NewServer wires the routes and the health service for ctl.
func NewServer(cfg config.APIConfig, ctl *capture.Controller, log *zap.SugaredLogger) *Server {
	hs := NewHealthServer(ctl)
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		cfg: cfg,
		http: &http.Server{
			Addr:    cfg.HttpListenAddr,
			Handler: NewRouter(ctl, log),
		},
		grpc:   gs,
		health: hs,
		log:    log,
	}
}

// Serve blocks until ctx is cancelled or a listener fails, then shuts
// both servers down.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.GrpcListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.GrpcListenAddr, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Infof("gRPC health server starting on %s", s.cfg.GrpcListenAddr)
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.log.Infof("HTTP API server starting on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", s.http.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("API servers shutting down...")
		s.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.http.Shutdown(shutdownCtx)
		s.grpc.GracefulStop()
		return err
	})
	return g.Wait()
}
