package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrImportLockTimeout indicates another import for the same tenant held the lock too long.
var ErrImportLockTimeout = errors.New("timed out waiting for tenant import lock")

// TenantLocker serialises imports per tenant. Different tenants never contend.
type TenantLocker interface {
	Lock(ctx context.Context, tenantID string) (func(), error)
}

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type tenantLocker struct {
	mu      sync.Mutex
	slots   map[string]chan struct{}
	redis   *redis.Client
	ttl     time.Duration
	retry   time.Duration
	timeout time.Duration
}

// NewTenantLocker builds a locker. With a Redis client the lock also holds
// across API instances. The holder extends the key every ttl/3 while the
// import runs; the key expires after ttl if the holder dies.
func NewTenantLocker(client *redis.Client, ttl time.Duration) TenantLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &tenantLocker{
		slots:   make(map[string]chan struct{}),
		redis:   client,
		ttl:     ttl,
		retry:   50 * time.Millisecond,
		timeout: ttl,
	}
}

func (l *tenantLocker) slot(tenantID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[tenantID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[tenantID] = ch
	}
	return ch
}

func (l *tenantLocker) Lock(ctx context.Context, tenantID string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	slot := l.slot(tenantID)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrImportLockTimeout)
	}
	releaseLocal := func() { <-slot }

	if l.redis == nil {
		return releaseLocal, nil
	}

	key := fmt.Sprintf("gradebook:%s:import-lock", tenantID)
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		acquired, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			releaseLocal()
			return nil, fmt.Errorf("acquire tenant lock: %w", err)
		}
		if acquired {
			stopRenew := l.keepAlive(key, token)
			return func() {
				stopRenew()
				releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer releaseCancel()
				_ = releaseScript.Run(releaseCtx, l.redis, []string{key}, token).Err()
				releaseLocal()
			}, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			releaseLocal()
			return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrImportLockTimeout)
		}
	}
}

// keepAlive pushes the lock expiry forward until the returned stop func runs
// or the key no longer carries token.
func (l *tenantLocker) keepAlive(key, token string) func() {
	interval := l.ttl / 3
	if interval <= 0 {
		interval = l.ttl
	}
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				kept, err := extendScript.Run(ctx, l.redis, []string{key}, token, l.ttl.Milliseconds()).Int64()
				cancel()
				if err == nil && kept == 0 {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
		})
	}
}
