package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/metrics"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

// ReleaseFunc gives a lease back. Releasing twice is harmless.
type ReleaseFunc func(ctx context.Context) error

// RunLease admits at most one run per tenant at a time.
type RunLease interface {
	Acquire(ctx context.Context, tenantID string, mode models.SyncMode) (ReleaseFunc, error)
	Holder(ctx context.Context, tenantID string) (LeaseInfo, bool, error)
}

func holderName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "mirror"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func rejectLease(tenantID string, info LeaseInfo) error {
	metrics.LeaseRejectionsTotal.Inc()
	common.GetTenantLogger(common.LoggerCategoryLease, tenantID).Warn("Run rejected, lease held",
		zap.String("holder", info.Holder),
		zap.String("mode", string(info.Mode)),
		zap.Time("since", info.Since))
	return &LeaseHeldError{Info: info}
}

// LocalLease guards runs inside one process.
type LocalLease struct {
	mu     sync.Mutex
	held   map[string]LeaseInfo
	holder string
}

func NewLocalLease() *LocalLease {
	return &LocalLease{held: map[string]LeaseInfo{}, holder: holderName()}
}

func (l *LocalLease) Acquire(_ context.Context, tenantID string, mode models.SyncMode) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if info, ok := l.held[tenantID]; ok {
		return nil, rejectLease(tenantID, info)
	}
	token := uuid.NewString()
	l.held[tenantID] = LeaseInfo{TenantID: tenantID, Holder: l.holder + "/" + token, Mode: mode, Since: time.Now().UTC()}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if info, ok := l.held[tenantID]; ok && info.Holder == l.holder+"/"+token {
			delete(l.held, tenantID)
		}
		return nil
	}, nil
}

func (l *LocalLease) Holder(_ context.Context, tenantID string) (LeaseInfo, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.held[tenantID]
	return info, ok, nil
}

// releaseScript deletes the lease only if it still carries our value, so a
// lease that expired and was taken by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript pushes the expiry out only while the lease still carries our
// value.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLease guards runs across processes sharing one redis. Leases expire
// after ttl so a crashed holder cannot block a tenant forever; a live holder
// extends its lease every renewEvery until it releases.
type RedisLease struct {
	client     *redis.Client
	ttl        time.Duration
	renewEvery time.Duration
	holder     string
}

func NewRedisLease(client *redis.Client, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, ttl: ttl, renewEvery: max(ttl/3, time.Millisecond), holder: holderName()}
}

func leaseKey(tenantID string) string {
	return "mirror:lease:" + tenantID
}

func (l *RedisLease) Acquire(ctx context.Context, tenantID string, mode models.SyncMode) (ReleaseFunc, error) {
	info := LeaseInfo{
		TenantID: tenantID,
		Holder:   l.holder + "/" + uuid.NewString(),
		Mode:     mode,
		Since:    time.Now().UTC(),
	}
	value, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	key := leaseKey(tenantID)
	ok, err := l.client.SetNX(ctx, key, value, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease for tenant %s: %w", tenantID, err)
	}
	if !ok {
		current, found, err := l.Holder(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if !found {
			current = LeaseInfo{TenantID: tenantID}
		}
		return nil, rejectLease(tenantID, current)
	}

	renewCtx, stopRenew := context.WithCancel(context.WithoutCancel(ctx))
	renewed := make(chan struct{})
	go l.keepAlive(renewCtx, tenantID, key, string(value), renewed)

	var stop sync.Once
	return func(ctx context.Context) error {
		stop.Do(func() {
			stopRenew()
			<-renewed
		})
		return releaseScript.Run(ctx, l.client, []string{key}, string(value)).Err()
	}, nil
}

// keepAlive extends the lease until ctx is cancelled or the lease turns out to
// belong to someone else.
func (l *RedisLease) keepAlive(ctx context.Context, tenantID, key, value string, done chan<- struct{}) {
	defer close(done)
	logger := common.GetTenantLogger(common.LoggerCategoryLease, tenantID)

	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.client, []string{key}, value, l.ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("Lease renewal failed", zap.Error(err))
				continue
			}
			if n == 0 {
				logger.Warn("Lease lost before release")
				return
			}
		}
	}
}

func (l *RedisLease) Holder(ctx context.Context, tenantID string) (LeaseInfo, bool, error) {
	raw, err := l.client.Get(ctx, leaseKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return LeaseInfo{}, false, nil
	}
	if err != nil {
		return LeaseInfo{}, false, err
	}
	var info LeaseInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return LeaseInfo{}, false, fmt.Errorf("decode lease for tenant %s: %w", tenantID, err)
	}
	return info, true, nil
}
