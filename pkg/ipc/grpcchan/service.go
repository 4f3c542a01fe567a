// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package grpcchan

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// serviceName and the three method names below form the RPC surface a
// coordinator registers and a client dials, hand-authored in place of a
// generated .proto/.pb.go pair: the pack's retrieved examples carry no
// .proto files to ground a generated message type on, and hand-rolling the
// protoimpl/protoreflect machinery from memory without a compiler to catch
// mistakes is not a risk worth taking. grpc.ServiceDesc/grpc.MethodDesc
// registration needs no generated stub, and wrapperspb.BytesValue is a
// real, precompiled protobuf message already wired through go.mod, so both
// google.golang.org/grpc and google.golang.org/protobuf stay genuinely
// exercised.
const (
	serviceName    = "parascope.ipc.Collective"
	methodExchange = "Exchange"
	methodSend     = "Send"
	methodRecv     = "Recv"
)

// collectiveServer is what serviceDesc.HandlerType asserts a registered
// server implements; coordinatorServer (coordinator.go) is the only
// implementation.
type collectiveServer interface {
	exchange(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	send(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	recv(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*collectiveServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodExchange, Handler: exchangeHandler},
		{MethodName: methodSend, Handler: sendHandler},
		{MethodName: methodRecv, Handler: recvHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/ipc/grpcchan/collective",
}

func exchangeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(collectiveServer).exchange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + methodExchange}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(collectiveServer).exchange(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func sendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(collectiveServer).send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + methodSend}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(collectiveServer).send(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func recvHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(collectiveServer).recv(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + methodRecv}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(collectiveServer).recv(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}
