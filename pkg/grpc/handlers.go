package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/mirror"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

func tenantFromRequest(req *structpb.Struct) (string, error) {
	var tenantIDValidator = z.String().Trim().Min(1).Max(64).Required()

	var tenantID string
	if errs := tenantIDValidator.Parse(req.GetFields()["tenant_id"].GetStringValue(), &tenantID); errs != nil {
		return "", status.Errorf(codes.InvalidArgument, "validation error: %v", errs)
	}
	return tenantID, nil
}

// toStruct converts any JSON-encodable value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// runResponse returns the run result as the reply when the run is done, and
// as the detail of an error status otherwise.
func runResponse(result mirror.RunResult) (*structpb.Struct, error) {
	body, err := toStruct(result)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode run result: %v", err)
	}

	var code codes.Code
	var remoteErr *gateway.RemoteFetchError
	switch {
	case result.State == mirror.RunStateDone:
		return body, nil
	case result.State == mirror.RunStateRejected:
		code = codes.Aborted
	case errors.As(result.Err, &remoteErr):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}

	st := status.New(code, fmt.Sprintf("%s: %s", result.Terminal(), result.Error))
	if detailed, err := st.WithDetails(body); err == nil {
		st = detailed
	}
	return nil, st.Err()
}

func (s *MirrorServer) run(ctx context.Context, req *structpb.Struct, mode models.SyncMode) (*structpb.Struct, error) {
	tenantID, err := tenantFromRequest(req)
	if err != nil {
		return nil, err
	}

	result := s.Supervisor.Run(context.WithoutCancel(ctx), tenantID, mode)

	common.GetLoggerWith(common.LoggerNameGrpcServer).Info("Run triggered over grpc",
		zap.String(common.LoggerFieldTenant, tenantID),
		zap.String(common.LoggerFieldRunID, result.RunID),
		zap.String("mode", string(mode)),
		zap.String("state", result.Terminal()))

	return runResponse(result)
}

func (s *MirrorServer) RunFull(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, req, models.SyncModeFull)
}

func (s *MirrorServer) RunIncremental(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, req, models.SyncModeIncremental)
}

func timeValue(t *time.Time) *structpb.Value {
	if t == nil {
		return structpb.NewNullValue()
	}
	return structpb.NewStringValue(t.UTC().Format(time.RFC3339Nano))
}

func (s *MirrorServer) GetCursor(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFromRequest(req)
	if err != nil {
		return nil, err
	}

	cursor, err := s.Mirror.Cursor.Get(ctx, tenantID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read cursor: %v", err)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"tenant_id":                structpb.NewStringValue(tenantID),
		"last_full_sync_at":        timeValue(cursor.LastFullSyncAt),
		"last_incremental_sync_at": timeValue(cursor.LastIncrementalSyncAt),
	}}, nil
}
