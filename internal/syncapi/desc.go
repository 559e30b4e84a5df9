// Package syncapi defines the gRPC contract between devices and the central
// sync gateway, and the device-side client.
//
// Messages are google.protobuf.Struct values with the fields listed in
// messages.go, so the service needs no generated code.
package syncapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/pricekeeper/internal/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "pricekeeper.sync.v1.SyncGateway"

// Method names.
const (
	MethodSubmitOrder           = "SubmitOrder"
	MethodSubmitApprovalRequest = "SubmitApprovalRequest"
	MethodSubmitCheckIn         = "SubmitCheckIn"
	MethodSubmitCheckOut        = "SubmitCheckOut"
	MethodSyncPolicies          = "SyncPolicies"
)

var submitMethods = map[types.PayloadKind]string{
	types.KindOrder:           MethodSubmitOrder,
	types.KindApprovalRequest: MethodSubmitApprovalRequest,
	types.KindCheckIn:         MethodSubmitCheckIn,
	types.KindCheckOut:        MethodSubmitCheckOut,
}

// FullMethod returns the gRPC path of a method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// SubmitMethod returns the method accepting entries of kind.
func SubmitMethod(kind types.PayloadKind) (string, bool) {
	m, ok := submitMethods[kind]
	return m, ok
}

// Server is implemented by the gateway.
type Server interface {
	// Submit applies one device write. A repeated local id is acknowledged
	// as a duplicate and not applied again.
	Submit(ctx context.Context, kind types.PayloadKind, req *structpb.Struct) (*structpb.Struct, error)
	// SyncPolicies returns the caller's company policies.
	SyncPolicies(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the sync gateway for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodSubmitOrder, Handler: submitHandler(types.KindOrder)},
		{MethodName: MethodSubmitApprovalRequest, Handler: submitHandler(types.KindApprovalRequest)},
		{MethodName: MethodSubmitCheckIn, Handler: submitHandler(types.KindCheckIn)},
		{MethodName: MethodSubmitCheckOut, Handler: submitHandler(types.KindCheckOut)},
		{MethodName: MethodSyncPolicies, Handler: syncPoliciesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pricekeeper/sync/v1/sync.proto",
}

// RegisterServer registers srv on s.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

func submitHandler(kind types.PayloadKind) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := FullMethod(submitMethods[kind])

	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return srv.(Server).Submit(ctx, kind, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(Server).Submit(ctx, kind, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func syncPoliciesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).SyncPolicies(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(MethodSyncPolicies)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).SyncPolicies(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
