package detection

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type fakeInference struct {
	result    *DetectionResult
	err       error
	gotFrame  []byte
	gotThresh float32
}

func (f *fakeInference) Detect(ctx context.Context, frame *wrapperspb.BytesValue) (*structpb.Struct, error) {
	f.gotFrame = frame.GetValue()
	f.gotThresh = ConfThresholdFromContext(ctx, -1)
	if f.err != nil {
		return nil, f.err
	}
	return EncodeResult(f.result)
}

func startInferenceServer(t *testing.T, impl DetectionServer, serving healthpb.HealthCheckResponse_ServingStatus) *GRPCDetector {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer()
	RegisterDetectionServer(srv, impl)
	hs := health.NewServer()
	hs.SetServingStatus(DetectionServiceName, serving)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	gd, err := NewGRPCDetector(GRPCDetectorConfig{
		Endpoint: "passthrough:///bufnet",
		Timeout:  2 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gd.Close() })
	return gd
}

func TestGRPCDetectorDetectPersons(t *testing.T) {
	impl := &fakeInference{result: &DetectionResult{
		Detections: []Detection{
			{Class: "person", ClassID: 0, Confidence: 0.75, BBox: []float32{4, 8, 44, 108}},
		},
		InferenceTimeMs: 3.5,
		Device:          "cpu",
	}}
	gd := startInferenceServer(t, impl, healthpb.HealthCheckResponse_SERVING)

	got, err := gd.DetectPersons(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0.35)
	require.NoError(t, err)

	require.Len(t, got.Detections, 1)
	assert.Equal(t, "person", got.Detections[0].Class)
	assert.InDelta(t, 0.75, got.Detections[0].Confidence, 1e-6)
	assert.Equal(t, []float32{4, 8, 44, 108}, got.Detections[0].BBox)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, "cpu", got.Device)

	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xD9}, impl.gotFrame)
	assert.InDelta(t, 0.35, impl.gotThresh, 1e-6)
	assert.True(t, gd.IsHealthy(context.Background()))
}

func TestGRPCDetectorPropagatesServerError(t *testing.T) {
	impl := &fakeInference{err: status.Error(codes.Unavailable, "gpu busy")}
	gd := startInferenceServer(t, impl, healthpb.HealthCheckResponse_NOT_SERVING)

	_, err := gd.DetectPersons(context.Background(), []byte("frame"), 0.5)
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.False(t, gd.IsHealthy(context.Background()))
}

func TestNewGRPCDetectorRequiresEndpoint(t *testing.T) {
	_, err := NewGRPCDetector(GRPCDetectorConfig{})
	assert.Error(t, err)
}
