package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "hydroverifier.v1.Verifier"

// Method names.
const (
	MethodVerify            = "Verify"
	MethodGetAttestation    = "GetAttestation"
	MethodListAttestations  = "ListAttestations"
	MethodVerifyAttestation = "VerifyAttestation"
	MethodTrainClusters     = "TrainClusters"
	MethodRetrainDetector   = "RetrainDetector"
	MethodDeviceStats       = "DeviceStats"
)

// VerifierServer is the server API of the verifier service. Every message is a
// google.protobuf.Struct carrying the JSON form of the domain type.
type VerifierServer interface {
	Verify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetAttestation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListAttestations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	VerifyAttestation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	TrainClusters(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RetrainDetector(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	DeviceStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv VerifierServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(VerifierServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(VerifierServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// VerifierServiceDesc describes the verifier service for grpc.Server registration.
var VerifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VerifierServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodVerify, VerifierServer.Verify),
		unaryMethod(MethodGetAttestation, VerifierServer.GetAttestation),
		unaryMethod(MethodListAttestations, VerifierServer.ListAttestations),
		unaryMethod(MethodVerifyAttestation, VerifierServer.VerifyAttestation),
		unaryMethod(MethodTrainClusters, VerifierServer.TrainClusters),
		unaryMethod(MethodRetrainDetector, VerifierServer.RetrainDetector),
		unaryMethod(MethodDeviceStats, VerifierServer.DeviceStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hydroverifier/v1/verifier.proto",
}

// RegisterVerifierServer registers srv with s.
func RegisterVerifierServer(s grpc.ServiceRegistrar, srv VerifierServer) {
	s.RegisterService(&VerifierServiceDesc, srv)
}

// VerifierClient calls the verifier service.
type VerifierClient struct {
	cc grpc.ClientConnInterface
}

// NewVerifierClient wraps a client connection.
func NewVerifierClient(cc grpc.ClientConnInterface) *VerifierClient {
	return &VerifierClient{cc: cc}
}

// Call invokes method with req.
func (c *VerifierClient) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
