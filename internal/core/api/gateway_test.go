package api_test

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/solatis/pricekeeper/internal/connectivity"
	"github.com/solatis/pricekeeper/internal/core/api"
	"github.com/solatis/pricekeeper/internal/core/auth"
	"github.com/solatis/pricekeeper/internal/core/config"
	"github.com/solatis/pricekeeper/internal/core/db"
	"github.com/solatis/pricekeeper/internal/core/observability"
	"github.com/solatis/pricekeeper/internal/core/resilience"
	"github.com/solatis/pricekeeper/internal/core/server"
	"github.com/solatis/pricekeeper/internal/outbox"
	"github.com/solatis/pricekeeper/internal/syncapi"
	"github.com/solatis/pricekeeper/internal/types"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

var testSecret = []byte("test-secret-with-enough-entropy-0001")

type staticPolicies map[int64][]types.CommercialPolicy

func (s staticPolicies) LoadActivePolicies(_ context.Context, companyID int64) ([]types.CommercialPolicy, error) {
	return s[companyID], nil
}

var testPolicies = staticPolicies{
	1: {
		{ID: 2, CompanyID: 1, Name: "Partner 500", Active: true, Criteria: types.Criteria{Partner: types.Equals[int64](500)}},
		{ID: 1, CompanyID: 1, Name: "Default", Active: true, Criteria: types.Criteria{Company: types.Equals[int64](1)}},
	},
	2: {
		{ID: 9, CompanyID: 2, Name: "Other", Active: true},
	},
}

type gateway struct {
	queries *db.Queries
	service *api.GatewayService
	dataDir string
	conn    *grpc.ClientConn
	keys    map[int64]string
}

func openQueries(t *testing.T, name string) *db.Queries {
	t.Helper()
	ctx := context.Background()
	database, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("Open() error = %v, want nil", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.MigrateUp(ctx, database); err != nil {
		t.Fatalf("MigrateUp() error = %v, want nil", err)
	}
	q, err := db.LoadQueries(database)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v, want nil", err)
	}
	return q
}

func startGateway(t *testing.T) *gateway {
	t.Helper()
	ctx := context.Background()
	q := openQueries(t, "gateway.db")

	cfg := config.Default().Gateway
	cfg.DataDir = t.TempDir()

	service, err := api.NewGatewayService(q, testPolicies, &cfg, observability.NewMetrics(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewGatewayService() error = %v, want nil", err)
	}
	authenticator := auth.NewAuthenticator(map[string][]byte{testSecretID: testSecret}, q)
	srv, err := server.NewGRPCServer(&cfg, service, authenticator, zap.NewNop())
	if err != nil {
		t.Fatalf("NewGRPCServer() error = %v, want nil", err)
	}

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v, want nil", err)
	}
	t.Cleanup(func() { conn.Close() })

	keys := make(map[int64]string)
	for _, companyID := range []int64{1, 2} {
		key, _, err := auth.IssueKey(ctx, q, testSecretID, testSecret, companyID, "device")
		if err != nil {
			t.Fatalf("IssueKey() error = %v, want nil", err)
		}
		keys[companyID] = key
	}

	return &gateway{queries: q, service: service, dataDir: cfg.DataDir, conn: conn, keys: keys}
}

func (g *gateway) client(apiKey string) *syncapi.Client {
	return syncapi.NewClient(g.conn, apiKey, resilience.NewCircuitBreaker("test", zap.NewNop()), zap.NewNop())
}

func (g *gateway) submissions(t *testing.T) int {
	t.Helper()
	var n int
	if err := g.queries.DB().Get(&n, "SELECT COUNT(*) FROM submissions"); err != nil {
		t.Fatalf("count submissions: %v", err)
	}
	return n
}

func newOrder(t *testing.T) types.OutboxEntry {
	t.Helper()
	e, err := outbox.NewEntry(types.KindOrder, "", map[string]any{"partner_id": 500})
	if err != nil {
		t.Fatalf("NewEntry() error = %v, want nil", err)
	}
	return e
}

func TestGateway_SubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := startGateway(t)
	client := g.client(g.keys[1])
	entry := newOrder(t)

	for i := 0; i < 3; i++ {
		if err := client.Submit(ctx, entry); err != nil {
			t.Fatalf("Submit() #%d error = %v, want nil", i+1, err)
		}
	}
	if n := g.submissions(t); n != 1 {
		t.Errorf("submissions = %d, want 1 after redelivery", n)
	}
}

func TestGateway_SubmitRejections(t *testing.T) {
	ctx := context.Background()
	g := startGateway(t)
	entry := newOrder(t)

	if err := g.client(g.keys[1]).Submit(ctx, entry); err != nil {
		t.Fatalf("Submit() error = %v, want nil", err)
	}

	tests := []struct {
		name   string
		apiKey string
		want   codes.Code
	}{
		{"unknown key", auth.FormatAPIKey(testSecretID, "00"), codes.Unauthenticated},
		{"missing key", "", codes.Unauthenticated},
		{"local id owned by another company", g.keys[2], codes.AlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.client(tt.apiKey).Submit(ctx, entry)
			if status.Code(err) != tt.want {
				t.Errorf("Submit() code = %v, want %v (err %v)", status.Code(err), tt.want, err)
			}
		})
	}
}

func TestGateway_SubmitValidatesRequest(t *testing.T) {
	ctx := auth.WithCompanyID(context.Background(), 1)
	g := startGateway(t)

	tests := []struct {
		name string
		req  syncapi.SubmitRequest
		kind types.PayloadKind
	}{
		{"kind mismatch", syncapi.SubmitRequest{LocalID: types.NewLocalID(), Kind: types.KindOrder, Payload: types.Payload(`{}`)}, types.KindCheckIn},
		{"bad local id", syncapi.SubmitRequest{LocalID: "nope", Kind: types.KindOrder, Payload: types.Payload(`{}`)}, types.KindOrder},
		{"invalid json", syncapi.SubmitRequest{LocalID: types.NewLocalID(), Kind: types.KindOrder, Payload: types.Payload(`{`)}, types.KindOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := tt.req.Struct()
			if err != nil {
				t.Fatalf("Struct() error = %v, want nil", err)
			}
			_, err = g.service.Submit(ctx, tt.kind, in)
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("Submit() code = %v, want InvalidArgument", status.Code(err))
			}
		})
	}
}

func TestGateway_JournalsAcceptedSubmissions(t *testing.T) {
	ctx := context.Background()
	g := startGateway(t)
	client := g.client(g.keys[1])

	for i := 0; i < 2; i++ {
		if err := client.Submit(ctx, newOrder(t)); err != nil {
			t.Fatalf("Submit() error = %v, want nil", err)
		}
	}

	files, err := filepath.Glob(filepath.Join(g.dataDir, "submissions", "*.jsonl"))
	if err != nil || len(files) != 1 {
		t.Fatalf("journal files = %v (err %v), want 1", files, err)
	}
	f, err := os.Open(files[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lines := 0
	for sc := bufio.NewScanner(f); sc.Scan(); {
		lines++
	}
	if lines != 2 {
		t.Errorf("journal lines = %d, want 2", lines)
	}
}

func TestGateway_SyncPolicies(t *testing.T) {
	ctx := context.Background()
	g := startGateway(t)

	got, err := g.client(g.keys[1]).LoadActivePolicies(ctx, 1)
	if err != nil {
		t.Fatalf("LoadActivePolicies() error = %v, want nil", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("LoadActivePolicies(1) = %+v, want policies 1 and 2 in id order", got)
	}

	// The key scopes the answer; asking for another company fails.
	if _, err := g.client(g.keys[1]).LoadActivePolicies(ctx, 2); err == nil {
		t.Error("LoadActivePolicies(2) with company 1 key error = nil, want error")
	}
}

func TestGateway_SyncPoliciesNotModified(t *testing.T) {
	ctx := auth.WithCompanyID(context.Background(), 1)
	g := startGateway(t)

	first, err := syncapi.PoliciesRequest{}.Struct()
	if err != nil {
		t.Fatal(err)
	}
	out, err := g.service.SyncPolicies(ctx, first)
	if err != nil {
		t.Fatalf("SyncPolicies() error = %v, want nil", err)
	}
	resp, err := syncapi.ParsePoliciesResponse(out)
	if err != nil {
		t.Fatalf("ParsePoliciesResponse() error = %v, want nil", err)
	}
	if resp.NotModified || resp.ETag == "" {
		t.Fatalf("first SyncPolicies() = %+v, want full set with etag", resp)
	}

	again, err := syncapi.PoliciesRequest{ETag: resp.ETag}.Struct()
	if err != nil {
		t.Fatal(err)
	}
	out, err = g.service.SyncPolicies(ctx, again)
	if err != nil {
		t.Fatalf("SyncPolicies() error = %v, want nil", err)
	}
	resp2, err := syncapi.ParsePoliciesResponse(out)
	if err != nil {
		t.Fatalf("ParsePoliciesResponse() error = %v, want nil", err)
	}
	if !resp2.NotModified || resp2.ETag != resp.ETag {
		t.Errorf("revalidation = %+v, want not_modified with etag %s", resp2, resp.ETag)
	}
}

func TestGateway_OutboxDeliversThroughClient(t *testing.T) {
	ctx := context.Background()
	g := startGateway(t)

	monitor := connectivity.NewMonitor(false)
	engine := outbox.NewEngine(outbox.NewStore(openQueries(t, "device.db")), g.client(g.keys[1]), monitor,
		5*time.Second, zap.NewNop(), observability.NewMetrics())

	entry, err := engine.Enqueue(ctx, newOrder(t))
	if err != nil {
		t.Fatalf("Enqueue() error = %v, want nil", err)
	}
	if _, err := engine.Flush(ctx); err != nil {
		t.Fatalf("Flush() offline error = %v, want nil", err)
	}
	if n := g.submissions(t); n != 0 {
		t.Fatalf("submissions while offline = %d, want 0", n)
	}

	monitor.Set(true)
	report, err := engine.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush() error = %v, want nil", err)
	}
	if report.Synced != 1 {
		t.Errorf("Flush() synced = %d, want 1", report.Synced)
	}
	st, err := engine.Status(ctx, entry.LocalID)
	if err != nil {
		t.Fatalf("Status() error = %v, want nil", err)
	}
	if st != types.EntrySynced {
		t.Errorf("Status() = %s, want synced", st)
	}
	if n := g.submissions(t); n != 1 {
		t.Errorf("submissions = %d, want 1", n)
	}
}
