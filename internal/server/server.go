// Package server exposes zapline's operational surface: liveness and
// readiness probes, Prometheus metrics and read-only ledger views over HTTP,
// and the standard gRPC health service.
package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/zapline/internal/ledger"
	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/store"
)

// ServiceName is the gRPC health service name reported alongside the
// server-wide ("") status.
const ServiceName = "zapline"

// readyTimeout bounds the store probe behind /readyz.
const readyTimeout = 3 * time.Second

// OpsServer serves health, metrics and ledger views.
type OpsServer struct {
	store   store.Store
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	health  *health.Server
	logger  *slog.Logger
}

// NewOpsServer returns an OpsServer reporting NOT_SERVING until SetServing
// is called.
func NewOpsServer(st store.Store, l *ledger.Ledger, m *metrics.Metrics, logger *slog.Logger) *OpsServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &OpsServer{
		store:   st,
		ledger:  l,
		metrics: m,
		health:  health.NewServer(),
		logger:  logger,
	}
	s.SetServing(false)
	return s
}

// Health is the gRPC health implementation backing this server.
func (s *OpsServer) Health() *health.Server {
	return s.health
}

// SetServing flips the gRPC health status for both the server and the
// zapline service.
func (s *OpsServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Shutdown marks every service NOT_SERVING so load balancers drain first.
func (s *OpsServer) Shutdown() {
	s.health.Shutdown()
}

// checkStore performs a cheap read inside a transaction. A missing row is
// a healthy answer.
func (s *OpsServer) checkStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	return s.store.RunInTransaction(ctx, func(tx store.Store) error {
		_, err := tx.GetRelayCheckpoint(ctx, "")
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
}
