package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestTenantLockerSerialisesSameTenant(t *testing.T) {
	locker := NewTenantLocker(nil, time.Second)

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "north-high")
			require.NoError(t, err)
			current := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if current <= old || atomic.CompareAndSwapInt32(&peak, old, current) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), peak)
}

func TestTenantLockerDoesNotBlockOtherTenants(t *testing.T) {
	locker := NewTenantLocker(nil, time.Second)

	unlock, err := locker.Lock(context.Background(), "north-high")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	other, err := locker.Lock(ctx, "south-high")
	require.NoError(t, err)
	other()
}

func TestTenantLockerHonoursContext(t *testing.T) {
	locker := NewTenantLocker(nil, time.Second)

	unlock, err := locker.Lock(context.Background(), "north-high")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "north-high")
	require.True(t, errors.Is(err, ErrImportLockTimeout))
}

func TestTenantLockerUsesRedisAcrossInstances(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	first := NewTenantLocker(client, time.Second)
	second := NewTenantLocker(client, time.Second)

	unlock, err := first.Lock(context.Background(), "north-high")
	require.NoError(t, err)
	require.True(t, mini.Exists("gradebook:north-high:import-lock"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx, "north-high")
	require.True(t, errors.Is(err, ErrImportLockTimeout))

	unlock()
	require.False(t, mini.Exists("gradebook:north-high:import-lock"))

	again, err := second.Lock(context.Background(), "north-high")
	require.NoError(t, err)
	again()
}

func TestTenantLockerReleaseKeepsForeignToken(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	locker := NewTenantLocker(client, time.Second)

	unlock, err := locker.Lock(context.Background(), "north-high")
	require.NoError(t, err)

	require.NoError(t, mini.Set("gradebook:north-high:import-lock", "someone-else"))
	unlock()
	require.True(t, mini.Exists("gradebook:north-high:import-lock"), "release must not delete a lock it no longer owns")
}

func TestTenantLockerExtendsRedisLockWhileHeld(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	ttl := 300 * time.Millisecond
	locker := NewTenantLocker(client, ttl)
	key := "gradebook:north-high:import-lock"

	unlock, err := locker.Lock(context.Background(), "north-high")
	require.NoError(t, err)

	// Let the key age close to expiry; the holder must push it back out.
	mini.FastForward(250 * time.Millisecond)
	require.True(t, mini.Exists(key))
	require.Eventually(t, func() bool {
		return mini.TTL(key) > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond, "lock expiry was not extended")

	// A long import outlives the original ttl several times over.
	for i := 0; i < 3; i++ {
		mini.FastForward(250 * time.Millisecond)
		require.True(t, mini.Exists(key))
		require.Eventually(t, func() bool {
			return mini.TTL(key) > 200*time.Millisecond
		}, 2*time.Second, 10*time.Millisecond)
	}

	unlock()
	require.False(t, mini.Exists(key))

	// Renewal stops with the release.
	time.Sleep(2 * ttl)
	require.False(t, mini.Exists(key))
}
