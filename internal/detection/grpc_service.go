package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// DetectionServiceName is the fully qualified gRPC service name
	DetectionServiceName = "peoplewatch.detection.v1.DetectionService"

	// ConfThresholdKey and ClassesKey are request metadata keys
	ConfThresholdKey = "x-conf-threshold"
	ClassesKey       = "x-classes"

	detectMethod = "/" + DetectionServiceName + "/Detect"
)

// DetectionServer is the server side of the detection service. Inference
// backends implement it; the client is GRPCDetector.
type DetectionServer interface {
	Detect(ctx context.Context, frame *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// RegisterDetectionServer registers impl on s
func RegisterDetectionServer(s grpc.ServiceRegistrar, impl DetectionServer) {
	s.RegisterService(&detectionServiceDesc, impl)
}

var detectionServiceDesc = grpc.ServiceDesc{
	ServiceName: DetectionServiceName,
	HandlerType: (*DetectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Detect",
			Handler:    detectHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "peoplewatch/detection/v1/detection.proto",
}

func detectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectionServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: detectMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectionServer).Detect(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ConfThresholdFromContext reads the confidence threshold a client sent, or fallback
func ConfThresholdFromContext(ctx context.Context, fallback float32) float32 {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return fallback
	}
	values := md.Get(ConfThresholdKey)
	if len(values) == 0 {
		return fallback
	}
	v, err := strconv.ParseFloat(values[0], 32)
	if err != nil {
		return fallback
	}
	return float32(v)
}

// EncodeResult converts a DetectionResult into the response message
func EncodeResult(result *DetectionResult) (*structpb.Struct, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build response: %w", err)
	}
	return s, nil
}
