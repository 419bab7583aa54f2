package api

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

func TestStructRoundTrip(t *testing.T) {
	flow, ph := 2.5, 7.2
	in := VerifyRequest{
		Reading: models.ReadingPayload{DeviceID: "turbine-001", Timestamp: "2026-05-01T12:00:00Z", FlowRateM3S: &flow, PH: &ph},
		Profile: &models.DeviceProfile{DeviceID: "turbine-001", CapacityKW: 1200},
	}
	s, err := ToStruct(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Fields["reading"].GetStructValue().Fields["deviceId"].GetStringValue(); got != "turbine-001" {
		t.Fatalf("unexpected deviceId %q", got)
	}

	var out VerifyRequest
	if err := FromStruct(s, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Reading.FlowRateM3S == nil || *out.Reading.FlowRateM3S != 2.5 {
		t.Fatalf("flow not preserved: %+v", out.Reading)
	}
	if out.Reading.HeadHeightM != nil {
		t.Fatalf("missing field should stay nil")
	}
	if out.Profile == nil || out.Profile.CapacityKW != 1200 {
		t.Fatalf("profile not preserved: %+v", out.Profile)
	}
}

func TestFromStructRejectsNil(t *testing.T) {
	var out IDRequest
	if err := FromStruct(nil, &out); err == nil {
		t.Fatalf("expected error for nil struct")
	}
}

func TestToStructRejectsNonObject(t *testing.T) {
	if _, err := ToStruct([]int{1, 2}); err == nil {
		t.Fatalf("expected error for array message")
	}
}

type echoServer struct {
	calls []string
}

func (e *echoServer) echo(name string, req *structpb.Struct) (*structpb.Struct, error) {
	e.calls = append(e.calls, name)
	out, _ := structpb.NewStruct(map[string]any{"method": name})
	for k, v := range req.GetFields() {
		out.Fields[k] = v
	}
	return out, nil
}

func (e *echoServer) Verify(_ context.Context, r *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodVerify, r)
}
func (e *echoServer) GetAttestation(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.NotFound, "attestation not found")
}
func (e *echoServer) ListAttestations(_ context.Context, r *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodListAttestations, r)
}
func (e *echoServer) VerifyAttestation(_ context.Context, r *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodVerifyAttestation, r)
}
func (e *echoServer) TrainClusters(_ context.Context, r *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodTrainClusters, r)
}
func (e *echoServer) RetrainDetector(_ context.Context, r *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodRetrainDetector, r)
}
func (e *echoServer) DeviceStats(_ context.Context, r *structpb.Struct) (*structpb.Struct, error) {
	return e.echo(MethodDeviceStats, r)
}

func startBufServer(t *testing.T, srv VerifierServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := NewServerWithListener(lis, srv, nil)
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServerRoutesMethods(t *testing.T) {
	srv := &echoServer{}
	conn := startBufServer(t, srv)
	client := NewVerifierClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := ToStruct(DeviceRequest{DeviceID: "turbine-001"})
	for _, method := range []string{MethodVerify, MethodListAttestations, MethodVerifyAttestation, MethodTrainClusters, MethodRetrainDetector, MethodDeviceStats} {
		resp, err := client.Call(ctx, method, req)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", method, err)
		}
		if got := resp.Fields["method"].GetStringValue(); got != method {
			t.Fatalf("expected %s to be routed, got %q", method, got)
		}
		if resp.Fields["deviceId"].GetStringValue() != "turbine-001" {
			t.Fatalf("%s: request body lost", method)
		}
	}

	_, err := client.Call(ctx, MethodGetAttestation, req)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	_, err = client.Call(ctx, "Unknown", req)
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected Unimplemented, got %v", err)
	}
}

func TestServerHealth(t *testing.T) {
	conn := startBufServer(t, &echoServer{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}
}

type panicServer struct {
	echoServer
}

func (p *panicServer) DeviceStats(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	panic("boom")
}

func TestServerRecoversFromPanics(t *testing.T) {
	conn := startBufServer(t, &panicServer{})
	client := NewVerifierClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := ToStruct(DeviceRequest{DeviceID: "turbine-001"})
	_, err := client.Call(ctx, MethodDeviceStats, req)
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal after panic, got %v", err)
	}
	if _, err := client.Call(ctx, MethodVerify, req); err != nil {
		t.Fatalf("server should keep serving after a panic: %v", err)
	}
}
