package server

import (
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the health service and reflection.
func NewGRPCServer(ops *OpsServer, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(ops.logger),
			LoggingInterceptor(ops.logger),
			AuthInterceptor(authToken),
		),
	)

	healthpb.RegisterHealthServer(srv, ops.Health())
	reflection.Register(srv)

	return srv
}
