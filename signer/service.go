package signer

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	serviceName             = "signer.v1.Signer"
	signBlindedMessagesPath = "/" + serviceName + "/SignBlindedMessages"
)

// BlindedMessage is the wire form of a message to sign.
type BlindedMessage struct {
	KeysetId []byte `cbor:"1,keyasint"`
	Amount   uint64 `cbor:"2,keyasint"`
	B_       []byte `cbor:"3,keyasint"`
}

type SignRequest struct {
	Messages []BlindedMessage `cbor:"1,keyasint"`
}

// SignResponse carries one compressed point per requested message, in
// request order.
type SignResponse struct {
	Signatures [][]byte `cbor:"1,keyasint"`
}

// SignerServer is the server API for the signer service.
type SignerServer interface {
	SignBlindedMessages(context.Context, *SignRequest) (*SignResponse, error)
}

// UnimplementedSignerServer can be embedded to have forward compatible implementations.
type UnimplementedSignerServer struct{}

func (UnimplementedSignerServer) SignBlindedMessages(context.Context, *SignRequest) (*SignResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SignBlindedMessages not implemented")
}

func RegisterSignerServer(s grpc.ServiceRegistrar, srv SignerServer) {
	s.RegisterService(&Signer_ServiceDesc, srv)
}

// SignerClient is the client API for the signer service.
type SignerClient interface {
	SignBlindedMessages(ctx context.Context, in *SignRequest, opts ...grpc.CallOption) (*SignResponse, error)
}

type signerClient struct{ cc grpc.ClientConnInterface }

func NewSignerClient(cc grpc.ClientConnInterface) SignerClient { return &signerClient{cc: cc} }

func (c *signerClient) SignBlindedMessages(ctx context.Context, in *SignRequest, opts ...grpc.CallOption) (*SignResponse, error) {
	out := new(SignResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	err := c.cc.Invoke(ctx, signBlindedMessagesPath, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func _Signer_SignBlindedMessages_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SignRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SignerServer).SignBlindedMessages(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: signBlindedMessagesPath}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SignerServer).SignBlindedMessages(ctx, req.(*SignRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Signer_ServiceDesc is the grpc.ServiceDesc for the signer service.
var Signer_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SignerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SignBlindedMessages", Handler: _Signer_SignBlindedMessages_Handler},
	},
	Streams: []grpc.StreamDesc{},
}
