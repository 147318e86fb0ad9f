package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"eagle-task/internal/shared/model"
	"eagle-task/pkg/logging"
)

// Redis 会话 key 前缀：conv:{boot_id}:{kind}:{id}
//
// boot_id 每次进程启动重新生成，重启后的进程看不到之前的会话。
const keyPrefix = "conv:"

// createScript key 不存在时写入 system 记录
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// appendScript key 存在时追加记录并续期
var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// RedisStore Redis 会话存储，每个会话为一个 JSON 记录列表
type RedisStore struct {
	client *redis.Client
	bootID string
	ttl    time.Duration
}

// NewRedisStoreFromURL 从 URL 创建 Redis 会话存储
func NewRedisStoreFromURL(redisURL string, ttl time.Duration, log *logging.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := NewRedisStore(client, ttl)
	if log != nil {
		log.Info().Str("addr", opts.Addr).Str("boot_id", store.bootID).Msg("redis conversation store connected")
	}
	return store, nil
}

// NewRedisStore 从现有客户端创建会话存储
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisStore{
		client: client,
		bootID: uuid.NewString(),
		ttl:    ttl,
	}
}

func (s *RedisStore) key(k Key) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, s.bootID, k.Kind, k.ID)
}

func (s *RedisStore) Create(ctx context.Context, key Key, system model.Turn) (bool, error) {
	data, err := json.Marshal(system)
	if err != nil {
		return false, err
	}
	created, err := createScript.Run(ctx, s.client, []string{s.key(key)}, data, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis create %s: %w", key, err)
	}
	return created == 1, nil
}

func (s *RedisStore) Append(ctx context.Context, key Key, turn model.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	ok, err := appendScript.Run(ctx, s.client, []string{s.key(key)}, data, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis append %s: %w", key, err)
	}
	if ok == 0 {
		return ErrUninitialized
	}
	return nil
}

func (s *RedisStore) Turns(ctx context.Context, key Key) ([]model.Turn, error) {
	raw, err := s.client.LRange(ctx, s.key(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil, ErrUninitialized
	}
	turns := make([]model.Turn, 0, len(raw))
	for i, item := range raw {
		var t model.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("redis decode %s[%d]: %w", key, i, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *RedisStore) Exists(ctx context.Context, key Key) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n == 1, nil
}

// Close 关闭 Redis 连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
