package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// healthMethodPrefix covers Check and Watch of grpc.health.v1.
const healthMethodPrefix = "/grpc.health.v1.Health/"

var (
	errNoAuthHeader  = errors.New("missing authorization header")
	errAuthScheme    = errors.New("invalid authorization scheme")
	errInvalidBearer = errors.New("invalid token")
)

// checkBearer validates an Authorization header value against token.
func checkBearer(header, token string) error {
	if header == "" {
		return errNoAuthHeader
	}
	provided, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return errAuthScheme
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
		return errInvalidBearer
	}
	return nil
}

// LoggingInterceptor logs every unary RPC with its duration. Failures are
// logged at error level, successes at debug.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		attrs := []any{"method", info.FullMethod, "duration", time.Since(start)}
		if err != nil {
			logger.Error("rpc failed", append(attrs, "code", status.Code(err).String(), "err", err)...)
		} else {
			logger.Debug("rpc completed", attrs...)
		}
		return resp, err
	}
}

// RecoveryInterceptor turns a handler panic into codes.Internal.
func RecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("rpc panic",
					"method", info.FullMethod,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// AuthInterceptor requires "authorization: Bearer <token>" metadata on every
// RPC except the health service. An empty token disables the check.
func AuthInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if token == "" || strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		var header string
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
		if err := checkBearer(header, token); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}

// probePaths are reachable without a token so orchestrators and scrapers
// need no credentials.
var probePaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// AuthMiddleware is the HTTP counterpart of AuthInterceptor. GET requests
// to the probe paths are exempt.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && probePaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if err := checkBearer(r.Header.Get("Authorization"), token); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
