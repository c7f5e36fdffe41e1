package common

const (
	EnvKeyGoEnv string = "GO_ENV"

	EnvKeyRunIntegrationTests string = "RUN_INTEGRATION_TESTS"

	EnvKeyConfigPath string = "CONFIG_PATH"

	EnvKeyMirrorLogDir   string = "MIRROR_LOG_DIR"
	EnvKeyMirrorLogLevel string = "MIRROR_LOG_LEVEL"

	EnvKeyMirrorDBType string = "MIRROR_DB_TYPE"
	EnvKeyMirrorDbPath string = "MIRROR_DB_PATH"
	EnvKeyMirrorDbDSN  string = "MIRROR_DB_DSN"

	EnvKeyMirrorHttpHostPort string = "MIRROR_HTTP_HOST_PORT"
	EnvKeyMirrorGrpcHostPort string = "MIRROR_GRPC_HOST_PORT"

	EnvKeyMirrorDefaultRate  string = "MIRROR_DEFAULT_RATE"
	EnvKeyMirrorDefaultBurst string = "MIRROR_DEFAULT_BURST"

	EnvKeyMirrorRemoteTimeout          string = "MIRROR_REMOTE_TIMEOUT"
	EnvKeyMirrorRemotePageSize         string = "MIRROR_REMOTE_PAGE_SIZE"
	EnvKeyMirrorRemoteBatchSize        string = "MIRROR_REMOTE_BATCH_SIZE"
	EnvKeyMirrorRemoteFetchConcurrency string = "MIRROR_REMOTE_FETCH_CONCURRENCY"
	EnvKeyMirrorRemoteRate             string = "MIRROR_REMOTE_RATE"
	EnvKeyMirrorRemoteBurst            string = "MIRROR_REMOTE_BURST"
	EnvKeyMirrorBreakerMinRequests     string = "MIRROR_BREAKER_MIN_REQUESTS"
	EnvKeyMirrorBreakerFailureRatio    string = "MIRROR_BREAKER_FAILURE_RATIO"
	EnvKeyMirrorBreakerOpenTimeout     string = "MIRROR_BREAKER_OPEN_TIMEOUT"

	EnvKeyMirrorIncrementalOverlap  string = "MIRROR_INCREMENTAL_OVERLAP"
	EnvKeyMirrorEventLookback       string = "MIRROR_EVENT_LOOKBACK"
	EnvKeyMirrorHistoryLookback     string = "MIRROR_HISTORY_LOOKBACK"
	EnvKeyMirrorLeaseTTL            string = "MIRROR_LEASE_TTL"
	EnvKeyMirrorTenantConcurrency   string = "MIRROR_TENANT_CONCURRENCY"
	EnvKeyMirrorFullInterval        string = "MIRROR_FULL_INTERVAL"
	EnvKeyMirrorIncrementalInterval string = "MIRROR_INCREMENTAL_INTERVAL"

	EnvKeyMirrorRedisEnabled  string = "MIRROR_REDIS_ENABLED"
	EnvKeyMirrorRedisAddr     string = "MIRROR_REDIS_ADDR"
	EnvKeyMirrorRedisPassword string = "MIRROR_REDIS_PASSWORD"
	EnvKeyMirrorRedisDB       string = "MIRROR_REDIS_DB"

	EnvKeyMirrorCacheTTL     string = "MIRROR_CACHE_TTL"
	EnvKeyMirrorCacheMaxCost string = "MIRROR_CACHE_MAX_COST"

	EnvKeyMirrorNatsURL     string = "MIRROR_NATS_URL"
	EnvKeyMirrorNotifyTopic string = "MIRROR_NOTIFY_TOPIC"

	LoggerNameMirrorCore    string = "mirror_core"
	LoggerNameGateway       string = "gateway"
	LoggerNameScheduler     string = "scheduler"
	LoggerNameNotify        string = "notify"
	LoggerNameRestfulServer string = "restful_server"
	LoggerNameGrpcServer    string = "grpc_server"

	LoggerFieldMirrorCategory string = "category"
	LoggerFieldTenant         string = "tenant"
	LoggerFieldKind           string = "kind"
	LoggerFieldRunID          string = "run_id"

	LoggerCategoryChunker    string = "chunker"
	LoggerCategoryReconciler string = "reconciler"
	LoggerCategoryCursor     string = "cursor"
	LoggerCategoryPipeline   string = "pipeline"
	LoggerCategoryBackfill   string = "backfill"
	LoggerCategoryAlarms     string = "alarms"
	LoggerCategoryPairing    string = "pairing"
	LoggerCategoryLease      string = "lease"
	LoggerCategorySupervisor string = "supervisor"
)
