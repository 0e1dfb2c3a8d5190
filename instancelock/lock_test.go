package instancelock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolink/appbridge/channel"
	"github.com/toolink/appbridge/lifecycle"
)

const testGroup = "group.com.adguard.safari"

var _ lifecycle.Component = (*Lock)(nil)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLock_SingleHolder(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	first, err := New(client, testGroup)
	require.NoError(t, err)
	second, err := New(client, testGroup)
	require.NoError(t, err)

	require.NoError(t, first.Acquire(ctx))
	require.NoError(t, first.Acquire(ctx), "acquire while held is a no-op")
	assert.True(t, first.Held())
	assert.True(t, mr.Exists("appbridge:v1:group.com.adguard.safari:main-app"))

	assert.ErrorIs(t, second.Acquire(ctx), ErrHeld)
	assert.False(t, second.Held())

	require.NoError(t, first.Release(ctx))
	assert.False(t, first.Held())
	assert.False(t, mr.Exists(Key(testGroup)))

	require.NoError(t, second.Acquire(ctx))
	require.NoError(t, second.Release(ctx))
	assert.ErrorIs(t, second.Release(ctx), ErrNotHeld)
}

func TestLock_OtherAppGroupsAreIndependent(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	a, err := New(client, testGroup)
	require.NoError(t, err)
	b, err := New(client, "group.com.adguard.mac")
	require.NoError(t, err)

	require.NoError(t, a.Acquire(ctx))
	require.NoError(t, b.Acquire(ctx))
	require.NoError(t, a.Release(ctx))
	require.NoError(t, b.Release(ctx))
}

func TestLock_RenewsLease(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	l, err := New(client, testGroup, WithTTL(300*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, l.Acquire(ctx))
	defer l.Release(ctx)

	// miniredis only expires keys on FastForward; a renewal resets the ttl
	mr.SetTTL(Key(testGroup), 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL(Key(testGroup)) > 100*time.Millisecond
	}, time.Second, 10*time.Millisecond)
	assert.True(t, l.Held())
}

func TestLock_LostLease(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	var lost atomic.Bool
	l, err := New(client, testGroup, WithTTL(150*time.Millisecond), WithOnLost(func() { lost.Store(true) }))
	require.NoError(t, err)
	require.NoError(t, l.Acquire(ctx))

	mr.Set(Key(testGroup), "someone-else")
	require.Eventually(t, lost.Load, time.Second, 10*time.Millisecond)
	assert.False(t, l.Held())
	assert.ErrorIs(t, l.Release(ctx), ErrNotHeld)

	got, err := mr.Get(Key(testGroup))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLock_Lifecycle(t *testing.T) {
	_, client := newTestRedis(t)

	l, err := New(client, testGroup)
	require.NoError(t, err)
	other, err := New(client, testGroup)
	require.NoError(t, err)

	m := lifecycle.New()
	require.NoError(t, m.Register(l))
	require.NoError(t, m.LoadAll())

	m2 := lifecycle.New()
	require.NoError(t, m2.Register(other))
	assert.ErrorIs(t, m2.LoadAll(), ErrHeld)

	require.NoError(t, m.ShutdownAll())
	require.NoError(t, l.Shutdown(), "shutdown without lease is a no-op")
}

func TestNew_Validation(t *testing.T) {
	_, client := newTestRedis(t)

	_, err := New(nil, testGroup)
	assert.ErrorIs(t, err, ErrNoClient)

	_, err = New(client, "bad group")
	assert.ErrorIs(t, err, channel.ErrConfiguration)
}
