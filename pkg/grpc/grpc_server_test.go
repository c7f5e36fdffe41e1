package grpc

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/db"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	gatewayMocks "liyu1981.xyz/monitoring-mirror-service/pkg/gateway/mocks"
	"liyu1981.xyz/monitoring-mirror-service/pkg/mirror"
	"liyu1981.xyz/monitoring-mirror-service/pkg/mirror/mocks"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
	_ "liyu1981.xyz/monitoring-mirror-service/pkg/testing"
)

const bufSize = 1024 * 1024

func newTestMirror(t *testing.T, gw gateway.Gateway) *mirror.Mirror {
	index, err := mirror.NewIndexCache(1<<20, time.Minute)
	require.NoError(t, err)
	t.Cleanup(index.Close)

	return (&mirror.Mirror{
		Db:       *db.GetInstance(db.UseMemorySqliteDialector()),
		Gateway:  gw,
		Index:    index,
		Settings: mirror.DefaultSettings(),
	}).WithDefaultServices()
}

func emptyRemote(ctrl *gomock.Controller) *gatewayMocks.MockGateway {
	gw := gatewayMocks.NewMockGateway(ctrl)
	gw.EXPECT().List(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(gateway.Page{Total: 0}, nil).AnyTimes()
	return gw
}

func startTestServer(t *testing.T, server *MirrorServer) *SyncServiceClient {
	listener := bufconn.Listen(bufSize)

	interceptor := grpc.UnaryInterceptor(server.CreateRateLimitInterceptor([]string{
		MethodRunFull,
		MethodRunIncremental,
		MethodGetCursor,
	}))
	s := grpc.NewServer(interceptor)
	RegisterSyncServiceServer(s, server)

	go func() {
		_ = s.Serve(listener)
	}()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewSyncServiceClient(conn)
}

func newMirrorServer(m *mirror.Mirror, limiterStore *mirror.RateLimiterStore) *MirrorServer {
	return &MirrorServer{
		Mirror: m,
		Supervisor: &mirror.Supervisor{
			Mirror:            m,
			Lease:             mirror.NewLocalLease(),
			TenantConcurrency: 1,
		},
		RateLimiterStore: limiterStore,
	}
}

func TestRunFullAndGetCursor(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	client := startTestServer(t, newMirrorServer(newTestMirror(t, emptyRemote(ctrl)), nil))

	tenantID := uuid.NewString()

	resp, err := client.RunFull(context.Background(), TenantRequest(tenantID))
	require.NoError(t, err)
	assert.Equal(t, "done", resp.GetFields()["state"].GetStringValue())
	assert.Equal(t, tenantID, resp.GetFields()["tenant_id"].GetStringValue())
	assert.Len(t, resp.GetFields()["stages"].GetListValue().GetValues(), len(mirror.Stages))

	cursor, err := client.GetCursor(context.Background(), TenantRequest(tenantID))
	require.NoError(t, err)
	assert.NotEmpty(t, cursor.GetFields()["last_full_sync_at"].GetStringValue())
	_, isNull := cursor.GetFields()["last_incremental_sync_at"].GetKind().(*structpb.Value_NullValue)
	assert.True(t, isNull)
}

func TestRunIncrementalFailures(t *testing.T) {
	common.SetTestLoggerNop()

	{
		// remote failures are Unavailable and carry the run result as detail
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		tenantID := uuid.NewString()
		gw := gatewayMocks.NewMockGateway(ctrl)
		gw.EXPECT().
			List(gomock.Any(), gomock.Eq(tenantID), gomock.Eq(gateway.KindHost), gomock.Any()).
			Return(gateway.Page{}, &gateway.RemoteFetchError{Kind: gateway.KindHost, TenantID: tenantID, Status: 502}).
			Times(1)

		client := startTestServer(t, newMirrorServer(newTestMirror(t, gw), nil))
		_, err := client.RunIncremental(context.Background(), TenantRequest(tenantID))
		require.Error(t, err)

		st, ok := status.FromError(err)
		require.True(t, ok)
		assert.Equal(t, codes.Unavailable, st.Code())
		assert.Contains(t, st.Message(), "Failed(hosts)")

		require.Len(t, st.Details(), 1)
		detail, ok := st.Details()[0].(*structpb.Struct)
		require.True(t, ok)
		assert.Equal(t, "hosts", detail.GetFields()["failed_stage"].GetStringValue())
	}

	{
		// a second run for a busy tenant is aborted
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		server := newMirrorServer(newTestMirror(t, emptyRemote(ctrl)), nil)
		client := startTestServer(t, server)
		tenantID := uuid.NewString()

		release, err := server.Supervisor.Lease.Acquire(context.Background(), tenantID, models.SyncModeFull)
		require.NoError(t, err)
		defer release(context.Background())

		_, err = client.RunIncremental(context.Background(), TenantRequest(tenantID))
		assert.Equal(t, codes.Aborted, status.Code(err))
	}

	{
		// other failures are Internal
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		m := newTestMirror(t, emptyRemote(ctrl))
		mockIPairing := mocks.NewMockIPairing(ctrl)
		m.Pairing = mockIPairing
		tenantID := uuid.NewString()
		mockIPairing.EXPECT().
			Pair(gomock.Any(), gomock.Eq(tenantID), gomock.Any()).
			Return(models.PairingReport{}, fmt.Errorf("just causing error")).
			Times(1)

		client := startTestServer(t, newMirrorServer(m, nil))
		_, err := client.RunIncremental(context.Background(), TenantRequest(tenantID))
		assert.Equal(t, codes.Internal, status.Code(err))
	}
}

func TestInvalidTenantID(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	client := startTestServer(t, newMirrorServer(newTestMirror(t, emptyRemote(ctrl)), nil))

	_, err := client.RunFull(context.Background(), &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetCursor(context.Background(), TenantRequest("   "))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGetCursorStoreFailure(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	m := newTestMirror(t, emptyRemote(ctrl))
	mockICursor := mocks.NewMockICursor(ctrl)
	m.Cursor = mockICursor
	mockICursor.EXPECT().Get(gomock.Any(), gomock.Any()).Return(models.SyncCursor{}, fmt.Errorf("just causing error"))

	client := startTestServer(t, newMirrorServer(m, nil))
	_, err := client.GetCursor(context.Background(), TenantRequest(uuid.NewString()))
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestRateLimitInterceptor(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	limiterStore := mirror.NewRateLimiterStore(2, 2)
	server := newMirrorServer(newTestMirror(t, emptyRemote(ctrl)), limiterStore)
	client := startTestServer(t, server)

	tenantID := uuid.NewString()
	ctx := context.Background()

	for i := range 3 {
		_, err := client.GetCursor(ctx, TenantRequest(tenantID))
		if i < 2 {
			require.NoError(t, err, "request %d should be allowed", i+1)
		} else {
			require.Error(t, err, "request %d should be rate limited", i+1)
			st, ok := status.FromError(err)
			require.True(t, ok, "expected gRPC status error")
			require.Equal(t, codes.ResourceExhausted, st.Code(), "expected ResourceExhausted code")
		}
	}

	// another tenant has its own budget
	_, err := client.GetCursor(ctx, TenantRequest(uuid.NewString()))
	require.NoError(t, err)

	limiterStore.SetLimiter(tenantID, 100, 10)
	_, err = client.GetCursor(ctx, TenantRequest(tenantID))
	require.NoError(t, err)
	assert.Equal(t, 10, server.GetLimiter(tenantID).Burst())
}

func TestRunIgnoresCallerCancellation(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	gw := gatewayMocks.NewMockGateway(ctrl)
	gw.EXPECT().List(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, _ gateway.Kind, _ gateway.Params) (gateway.Page, error) {
			if err := ctx.Err(); err != nil {
				return gateway.Page{}, err
			}
			return gateway.Page{Total: 0}, nil
		}).MinTimes(1)
	server := newMirrorServer(newTestMirror(t, gw), nil)

	tenantID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := server.RunFull(ctx, TenantRequest(tenantID))
	require.NoError(t, err)
	assert.Equal(t, "done", resp.GetFields()["state"].GetStringValue())

	cursor, err := server.Mirror.Cursor.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.NotNil(t, cursor.LastFullSyncAt)
}
