package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCHealthChecker probes a chat backend that exposes the standard gRPC
// health service instead of an HTTP /health endpoint.
type GRPCHealthChecker struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGRPCHealthChecker builds a client connection to addr. No network I/O
// happens until the first Check.
func NewGRPCHealthChecker(addr, service string, timeout time.Duration, logger *slog.Logger) (*GRPCHealthChecker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	kacp := keepalive.ClientParameters{
		Time:                2 * time.Minute,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("create grpc client for %s: %w", addr, err)
	}

	return &GRPCHealthChecker{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: service,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Check implements HealthChecker.
func (g *GRPCHealthChecker) Check(ctx context.Context) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	if err := waitForReady(ctx, g.conn); err != nil {
		g.logger.Debug("gRPC chat backend not ready", "error", err)
		return HealthResult{IsOnline: false}
	}
	resp, err := g.client.Check(ctx, &healthpb.HealthCheckRequest{Service: g.service})
	if err != nil {
		g.logger.Debug("gRPC health check failed", "error", err)
		return HealthResult{IsOnline: false}
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return HealthResult{IsOnline: false}
	}
	latency := time.Since(start).Milliseconds()
	return HealthResult{IsOnline: true, LatencyMs: &latency}
}

// Close releases the client connection.
func (g *GRPCHealthChecker) Close() {
	if err := g.conn.Close(); err != nil {
		g.logger.Warn("failed to close gRPC connection", "error", err)
	}
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

var (
	_ HealthChecker = (*HTTPHealthChecker)(nil)
	_ HealthChecker = (*GRPCHealthChecker)(nil)
)
