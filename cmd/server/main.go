package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"liyu1981.xyz/monitoring-mirror-service/pkg/app"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/config"
	mirrorGrpc "liyu1981.xyz/monitoring-mirror-service/pkg/grpc"
	mirrorHttp "liyu1981.xyz/monitoring-mirror-service/pkg/http"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
	"liyu1981.xyz/monitoring-mirror-service/pkg/scheduler"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal("Error loading .env file, copy .env.example to .env first if in development")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := common.GetLogger()

	core, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to wire mirror: %v", err)
	}
	defer core.Close()

	tree := scheduler.NewTree(scheduler.DefaultTreeConfig())

	tree.AddSyncService(scheduler.NewSyncService(core.Supervisor, models.SyncModeFull, cfg.Sync.FullInterval, false))
	tree.AddSyncService(scheduler.NewSyncService(core.Supervisor, models.SyncModeIncremental, cfg.Sync.IncrementalInterval, true))

	if grpcHostPort := strings.TrimSpace(cfg.GRPC.HostPort); grpcHostPort != "" {
		mirrorServer := &mirrorGrpc.MirrorServer{
			Mirror:           core.Mirror,
			Supervisor:       core.Supervisor,
			RateLimiterStore: core.OpsLimiters,
		}
		interceptor := mirrorServer.CreateRateLimitInterceptor([]string{
			mirrorGrpc.MethodRunFull,
			mirrorGrpc.MethodRunIncremental,
			mirrorGrpc.MethodGetCursor,
		})
		s := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
		mirrorGrpc.RegisterSyncServiceServer(s, mirrorServer)
		logger.Info("gRPC server created with:",
			zap.String("default_limiter",
				fmt.Sprintf("{\"default_rate\": %v, \"default_burst\": %v}", cfg.Limiter.Rate, cfg.Limiter.Burst)))

		tree.AddAPIService(scheduler.NewServerService("grpc-server",
			func() error {
				listener, err := net.Listen("tcp", grpcHostPort)
				if err != nil {
					return err
				}
				logger.Info("start gRPC server on " + grpcHostPort)
				err = s.Serve(listener)
				if errors.Is(err, grpc.ErrServerStopped) {
					return nil
				}
				return err
			},
			func(context.Context) error {
				s.GracefulStop()
				return nil
			}))
	}

	httpHostPort := strings.TrimSpace(cfg.HTTP.HostPort)
	if httpHostPort == "" {
		// fallback to default http port
		httpHostPort = ":1080"
	}

	rs := &mirrorHttp.RestfulServer{
		Server:           gin.Default(),
		Mirror:           core.Mirror,
		Supervisor:       core.Supervisor,
		Connections:      core.Connections,
		RateLimiterStore: core.OpsLimiters,
	}
	rs.Setup()

	logger.Info("http server created with:",
		zap.String("default_limiter",
			fmt.Sprintf("{\"default_rate\": %v, \"default_burst\": %v}", cfg.Limiter.Rate, cfg.Limiter.Burst)))
	logger.Info("Starting HTTP server on: " + httpHostPort)
	tree.AddAPIService(scheduler.NewHTTPServerService(&http.Server{Addr: httpHostPort, Handler: rs.Server}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervision tree stopped", zap.Error(err))
	}
	logger.Info("server stopped")
}
