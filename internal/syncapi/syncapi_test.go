package syncapi

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/pricekeeper/internal/types"
)

func TestParseSubmitRequest(t *testing.T) {
	id := types.NewLocalID()
	tests := []struct {
		name    string
		fields  map[string]interface{}
		wantErr error
	}{
		{"valid", map[string]interface{}{"local_id": string(id), "kind": "order", "payload_json": `{"a":1}`}, nil},
		{"unknown kind", map[string]interface{}{"local_id": string(id), "kind": "invoice", "payload_json": `{}`}, types.ErrUnknownPayloadKind},
		{"too large", map[string]interface{}{"local_id": string(id), "kind": "order", "payload_json": `"` + strings.Repeat("x", types.MaxPayloadSize) + `"`}, types.ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := structpb.NewStruct(tt.fields)
			if err != nil {
				t.Fatal(err)
			}
			req, err := ParseSubmitRequest(s)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseSubmitRequest() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && req.LocalID != id {
				t.Errorf("LocalID = %s, want %s", req.LocalID, id)
			}
		})
	}

	for _, fields := range []map[string]interface{}{
		{"local_id": "", "kind": "order", "payload_json": `{}`},
		{"local_id": string(id), "kind": "order", "payload_json": `{`},
	} {
		s, _ := structpb.NewStruct(fields)
		if _, err := ParseSubmitRequest(s); err == nil {
			t.Errorf("ParseSubmitRequest(%v) error = nil, want error", fields)
		}
	}
}

func TestParseSubmitResponse_RejectsUnknownStatus(t *testing.T) {
	s, _ := structpb.NewStruct(map[string]interface{}{"local_id": "x", "status": "maybe"})
	if _, err := ParseSubmitResponse(s); err == nil {
		t.Error("ParseSubmitResponse() error = nil, want error")
	}
}

func TestSubmitMethod(t *testing.T) {
	for kind, want := range map[types.PayloadKind]string{
		types.KindOrder:           MethodSubmitOrder,
		types.KindApprovalRequest: MethodSubmitApprovalRequest,
		types.KindCheckIn:         MethodSubmitCheckIn,
		types.KindCheckOut:        MethodSubmitCheckOut,
	} {
		got, ok := SubmitMethod(kind)
		if !ok || got != want {
			t.Errorf("SubmitMethod(%s) = %s, %v, want %s", kind, got, ok, want)
		}
	}
	if _, ok := SubmitMethod("invoice"); ok {
		t.Error("SubmitMethod(invoice) ok = true, want false")
	}
}

// stubServer answers for company 7 and records what it saw.
type stubServer struct {
	keys       []string
	kinds      []types.PayloadKind
	policyHits atomic.Int32
	fail       error
}

func (s *stubServer) Submit(ctx context.Context, kind types.PayloadKind, in *structpb.Struct) (*structpb.Struct, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	s.keys = append(s.keys, md.Get(APIKeyHeader)...)
	s.kinds = append(s.kinds, kind)
	if s.fail != nil {
		return nil, s.fail
	}
	req, err := ParseSubmitRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return SubmitResponse{LocalID: req.LocalID, Status: StatusAccepted}.Struct()
}

func (s *stubServer) SyncPolicies(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	s.policyHits.Add(1)
	req := ParsePoliciesRequest(in)
	resp := PoliciesResponse{CompanyID: 7, ETag: "v1"}
	if req.ETag == "v1" {
		resp.NotModified = true
	} else {
		resp.Policies = []types.CommercialPolicy{{ID: 1, CompanyID: 7, Name: "Default", Active: true}}
	}
	return resp.Struct()
}

func dialStub(t *testing.T, srv Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v, want nil", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "test"})
}

func TestClient_SubmitRoutesByKind(t *testing.T) {
	ctx := context.Background()
	stub := &stubServer{}
	c := NewClient(dialStub(t, stub), "key-1", newBreaker(), zap.NewNop())

	for _, kind := range []types.PayloadKind{types.KindOrder, types.KindCheckIn, types.KindCheckOut} {
		entry := types.OutboxEntry{LocalID: types.NewLocalID(), Kind: kind, Payload: types.Payload(`{}`)}
		if err := c.Submit(ctx, entry); err != nil {
			t.Fatalf("Submit(%s) error = %v, want nil", kind, err)
		}
	}

	if len(stub.kinds) != 3 || stub.kinds[1] != types.KindCheckIn {
		t.Errorf("server saw kinds %v, want order, check_in, check_out", stub.kinds)
	}
	for _, k := range stub.keys {
		if k != "key-1" {
			t.Errorf("server saw api key %q, want key-1", k)
		}
	}
}

func TestClient_SubmitSurfacesStatus(t *testing.T) {
	stub := &stubServer{fail: status.Error(codes.Unavailable, "db down")}
	c := NewClient(dialStub(t, stub), "key-1", newBreaker(), zap.NewNop())

	err := c.Submit(context.Background(), types.OutboxEntry{LocalID: types.NewLocalID(), Kind: types.KindOrder, Payload: types.Payload(`{}`)})
	if status.Code(err) != codes.Unavailable {
		t.Errorf("Submit() code = %v, want Unavailable", status.Code(err))
	}
}

func TestClient_LoadActivePoliciesRevalidates(t *testing.T) {
	ctx := context.Background()
	stub := &stubServer{}
	c := NewClient(dialStub(t, stub), "key-1", newBreaker(), zap.NewNop())

	for i := 0; i < 2; i++ {
		got, err := c.LoadActivePolicies(ctx, 7)
		if err != nil {
			t.Fatalf("LoadActivePolicies() #%d error = %v, want nil", i+1, err)
		}
		if len(got) != 1 || got[0].Name != "Default" {
			t.Fatalf("LoadActivePolicies() #%d = %+v, want cached Default policy", i+1, got)
		}
	}
	if hits := stub.policyHits.Load(); hits != 2 {
		t.Errorf("server hits = %d, want 2", hits)
	}

	if _, err := c.LoadActivePolicies(ctx, 8); err == nil {
		t.Error("LoadActivePolicies(8) error = nil, want company mismatch")
	}
}
