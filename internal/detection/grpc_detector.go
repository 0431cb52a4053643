package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// GRPCDetector calls the unary Detect method of a remote inference service.
// The request body is the JPEG frame; the confidence threshold travels as metadata.
type GRPCDetector struct {
	endpoint   string
	conn       *grpc.ClientConn
	health     healthpb.HealthClient
	timeout    time.Duration
	logger     *slog.Logger
	healthy    bool
	lastHealth time.Time
	healthMu   sync.RWMutex
}

// GRPCDetectorConfig holds configuration for the gRPC detector
type GRPCDetectorConfig struct {
	Endpoint    string
	Timeout     time.Duration // Per-call deadline
	DialOptions []grpc.DialOption
	Logger      *slog.Logger
}

// NewGRPCDetector creates a client. The connection is established lazily on the first call.
func NewGRPCDetector(config GRPCDetectorConfig) (*GRPCDetector, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("gRPC detector endpoint is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	// Keepalive detects dead connections between sparse detection passes
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}
	opts = append(opts, config.DialOptions...)

	conn, err := grpc.NewClient(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client: %w", err)
	}

	gd := &GRPCDetector{
		endpoint: config.Endpoint,
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
		timeout:  config.Timeout,
		logger:   config.Logger.With("component", "grpc-detector", "endpoint", config.Endpoint),
	}
	gd.logger.Info("gRPC detector configured")
	return gd, nil
}

// IsHealthy asks the standard health service whether the detection service is serving
func (gd *GRPCDetector) IsHealthy(ctx context.Context) bool {
	gd.healthMu.RLock()
	if gd.healthy && time.Since(gd.lastHealth) < healthCacheTTL {
		gd.healthMu.RUnlock()
		return true
	}
	gd.healthMu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	resp, err := gd.health.Check(ctx, &healthpb.HealthCheckRequest{Service: DetectionServiceName})
	healthy := err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	if err != nil {
		gd.logger.Warn("health check failed", "error", err)
	}

	gd.healthMu.Lock()
	gd.healthy = healthy
	if healthy {
		gd.lastHealth = time.Now()
	}
	gd.healthMu.Unlock()

	return healthy
}

// DetectPersons runs one detection call for a JPEG frame
func (gd *GRPCDetector) DetectPersons(ctx context.Context, imageData []byte, confThreshold float32) (*DetectionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, gd.timeout)
	defer cancel()

	ctx = metadata.AppendToOutgoingContext(ctx,
		ConfThresholdKey, strconv.FormatFloat(float64(confThreshold), 'f', 2, 32),
		ClassesKey, "person",
	)

	req := wrapperspb.Bytes(imageData)
	resp := &structpb.Struct{}
	if err := gd.conn.Invoke(ctx, detectMethod, req, resp); err != nil {
		return nil, fmt.Errorf("detect call failed: %w", err)
	}

	return decodeResult(resp)
}

// decodeResult maps the loosely typed response onto DetectionResult
func decodeResult(resp *structpb.Struct) (*DetectionResult, error) {
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	var result DetectionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Count == 0 {
		result.Count = len(result.Detections)
	}
	return &result, nil
}

// Close closes the connection
func (gd *GRPCDetector) Close() error {
	if gd.conn == nil {
		return nil
	}
	return gd.conn.Close()
}
