package connectivity

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestMonitor_SetNotifiesOnChange(t *testing.T) {
	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	defer cancel()

	if m.Set(false) {
		t.Error("Set(false) on offline monitor reported a change")
	}
	select {
	case v := <-ch:
		t.Fatalf("received %v without a change", v)
	default:
	}

	if !m.Set(true) {
		t.Error("Set(true) reported no change")
	}
	if !m.Online() {
		t.Error("Online() = false after Set(true)")
	}
	if v := <-ch; !v {
		t.Errorf("received %v, want true", v)
	}
}

func TestMonitor_SlowSubscriberSeesLatest(t *testing.T) {
	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(true)
	m.Set(false)
	m.Set(true)

	if v := <-ch; !v {
		t.Errorf("received %v, want latest state true", v)
	}
	select {
	case v := <-ch:
		t.Errorf("received extra state %v", v)
	default:
	}
}

func TestMonitor_CancelStopsDelivery(t *testing.T) {
	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	cancel()
	cancel()

	m.Set(true)
	select {
	case v := <-ch:
		t.Errorf("received %v after cancel", v)
	default:
	}
}

func startHealthServer(t *testing.T) (*health.Server, *grpc.ClientConn) {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v, want nil", err)
	}
	t.Cleanup(func() { conn.Close() })
	return hs, conn
}

func TestProber_Probe(t *testing.T) {
	hs, conn := startHealthServer(t)
	m := NewMonitor(false)
	p := NewProber(conn, m, "", time.Second, time.Second, zap.NewNop())

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	if !p.Probe(context.Background()) {
		t.Fatal("Probe() = false with serving server")
	}
	if !m.Online() {
		t.Error("monitor offline after successful probe")
	}

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	if p.Probe(context.Background()) {
		t.Fatal("Probe() = true with not-serving server")
	}
	if m.Online() {
		t.Error("monitor online after failed probe")
	}
}

func TestProber_UnknownServiceIsOffline(t *testing.T) {
	_, conn := startHealthServer(t)
	m := NewMonitor(true)
	p := NewProber(conn, m, "no.such.Service", time.Second, time.Second, zap.NewNop())

	if p.Probe(context.Background()) {
		t.Error("Probe() = true for unregistered service")
	}
	if m.Online() {
		t.Error("monitor online after failed probe")
	}
}
