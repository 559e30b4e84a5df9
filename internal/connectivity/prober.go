package connectivity

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Probe defaults.
const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// Prober polls the gRPC health service of the central service and records
// the result on a Monitor.
type Prober struct {
	health   grpc_health_v1.HealthClient
	monitor  *Monitor
	service  string
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewProber creates a prober checking service over cc. An empty service
// checks overall server health.
func NewProber(cc grpc.ClientConnInterface, monitor *Monitor, service string, interval, timeout time.Duration, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		health:   grpc_health_v1.NewHealthClient(cc),
		monitor:  monitor,
		service:  service,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Probe runs one health check and updates the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: p.service})
	online := err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING

	if p.monitor.Set(online) {
		if online {
			p.logger.Info("central service reachable")
		} else {
			p.logger.Warn("central service unreachable", zap.Error(err))
		}
	}
	return online
}

// Run probes immediately and then every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
