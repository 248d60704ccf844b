package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStorageDefault(t *testing.T) {
	storage := NewMemoryStorage()
	assert.NotNil(t, storage, "Expected storage to be created")
	assert.NoError(t, storage.Close())
}

func TestMemoryStorage_DriveTokens(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	_, err := store.GetDriveTokens(ctx, "u1")
	assert.ErrorIs(t, err, ErrDriveTokensNotFound)

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	in := &DriveTokens{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       expiry,
		Scopes:       []string{"drive.file"},
		Email:        "drive@example.com",
	}
	require.NoError(t, store.SaveDriveTokens(ctx, "u1", in))

	// Mutating the caller's copy must not leak into the store
	in.Scopes[0] = "mutated"

	got, err := store.GetDriveTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "access", got.AccessToken)
	assert.Equal(t, "refresh", got.RefreshToken)
	assert.Equal(t, expiry, got.Expiry)
	assert.Equal(t, []string{"drive.file"}, got.Scopes)
	assert.False(t, got.UpdatedAt.IsZero())

	_, err = store.GetDriveTokens(ctx, "u2")
	assert.ErrorIs(t, err, ErrDriveTokensNotFound)

	require.NoError(t, store.DeleteDriveTokens(ctx, "u1"))
	_, err = store.GetDriveTokens(ctx, "u1")
	assert.ErrorIs(t, err, ErrDriveTokensNotFound)

	assert.NoError(t, store.DeleteDriveTokens(ctx, "missing"))
	assert.Error(t, store.SaveDriveTokens(ctx, "u1", nil))
	assert.Error(t, store.SaveDriveTokens(ctx, "", in))
}

func TestMemoryStorage_UpsertUser(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStorage(WithMemoryClock(clock.Now))

	_, err := store.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, store.UpsertUser(ctx, "u1", "first@example.com"))
	first, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", first.Email)
	assert.Equal(t, first.FirstSeen, first.LastSeen)

	clock.Advance(time.Hour)
	require.NoError(t, store.UpsertUser(ctx, "u1", ""))
	second, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", second.Email, "empty email keeps the known one")
	assert.Equal(t, first.FirstSeen, second.FirstSeen)
	assert.Equal(t, first.LastSeen.Add(time.Hour), second.LastSeen)

	assert.Error(t, store.UpsertUser(ctx, "", "x@example.com"))
}

func TestMemoryStorage_ClaimNonce(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStorage(WithMemoryClock(clock.Now))

	expires := clock.Now().Add(10 * time.Minute)
	require.NoError(t, store.ClaimNonce(ctx, "n1", expires))
	assert.ErrorIs(t, store.ClaimNonce(ctx, "n1", expires), ErrNonceReused)
	require.NoError(t, store.ClaimNonce(ctx, "n2", expires.Add(time.Hour)))
	assert.Error(t, store.ClaimNonce(ctx, "", expires))

	count, err := store.CleanupExpiredNonces(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	clock.Advance(10 * time.Minute)
	count, err = store.CleanupExpiredNonces(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.ErrorIs(t, store.ClaimNonce(ctx, "n2", expires), ErrNonceReused)
}

func TestMemoryStorage_ClaimNonceConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	expires := time.Now().Add(time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.ClaimNonce(ctx, "shared", expires) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

type countingNonceStore struct {
	calls atomic.Int32
}

func (c *countingNonceStore) ClaimNonce(context.Context, string, time.Time) error { return nil }

func (c *countingNonceStore) CleanupExpiredNonces(context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestCleanupManager(t *testing.T) {
	store := &countingNonceStore{}
	cm := NewCleanupManager(store, 10*time.Millisecond)
	cm.Start(context.Background())

	require.Eventually(t, func() bool { return store.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cm.Stop()

	after := store.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, store.calls.Load(), "no cleanups after Stop")
}
