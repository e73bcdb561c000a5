// Package agentrpc holds the gRPC client used to reach fleet agents.
package agentrpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthPinger measures agent liveness via the standard gRPC health service
// the agent exposes on its listen port.
type HealthPinger struct {
	timeout time.Duration
}

func NewHealthPinger(timeout time.Duration) *HealthPinger {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HealthPinger{timeout: timeout}
}

// Ping dials the agent at addr and issues one health check. It returns the
// observed round-trip time on success.
func (p *HealthPinger) Ping(ctx context.Context, addr string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return 0, fmt.Errorf("dial agent %s: %w", addr, err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)

	start := time.Now()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	rtt := time.Since(start)
	if err != nil {
		return 0, fmt.Errorf("health check %s: %w", addr, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return rtt, fmt.Errorf("agent %s not serving: %s", addr, resp.GetStatus())
	}

	return rtt, nil
}
