package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eagle-task/internal/shared/model"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, ttl)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_CreateAppendTurns(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, time.Hour)
	key := Key{Kind: KindGrades, ID: "s1"}

	_, err := store.Turns(ctx, key)
	assert.ErrorIs(t, err, ErrUninitialized)
	assert.ErrorIs(t, store.Append(ctx, key, model.UserTurn("x")), ErrUninitialized)

	created, err := store.Create(ctx, key, model.SystemTurn("first"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Create(ctx, key, model.SystemTurn("second"))
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, store.Append(ctx, key, model.UserTurn("q")))
	require.NoError(t, store.Append(ctx, key, model.AssistantTurn("a")))

	turns, err := store.Turns(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []model.Turn{model.SystemTurn("first"), model.UserTurn("q"), model.AssistantTurn("a")}, turns)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "conv:"+store.bootID+":grades:"))
	assert.Equal(t, time.Hour, mr.TTL(keys[0]))
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, time.Minute)
	key := Key{Kind: KindSupport, ID: "s1"}

	_, err := store.Create(ctx, key, model.SystemTurn("sys"))
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisStore_BootNamespace(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	key := Key{Kind: KindSupport, ID: "same"}

	first := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	defer first.Close()
	_, err := first.Create(ctx, key, model.SystemTurn("old process"))
	require.NoError(t, err)

	// 模拟重启：新进程看不到旧会话
	second := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	defer second.Close()
	exists, err := second.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestManager_WithRedisStore(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t, time.Hour)
	m := NewManager(store)
	key := mustKey(t, KindGrades, "redis")

	reply, err := m.Exchange(ctx, key, StaticPreamble("sys"), "hello", &echoCompleter{})
	require.NoError(t, err)
	assert.Equal(t, "reply-1", reply)

	turns, err := m.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.Len(t, turns, 3)
}
