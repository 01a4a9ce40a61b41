package limiter

import (
	"bufio"
	"context"
	"crypto/sha1"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/redis/go-redis/v9"
)

//go:embed incr_expire.lua
var incrExpireScript string

var incrExpireSHA = func() string {
	sum := sha1.Sum([]byte(incrExpireScript))
	return hex.EncodeToString(sum[:])
}()

// EVAL and EVALSHA appeared in Redis 2.6.0.
var minRedisVersion = semver.MustParse("2.6.0")

const scanCount = 100

// RedisStore is a CounterStore backed by Redis. The increment runs as a Lua
// script, which Redis executes atomically, so it enforces one global budget
// per bucket across any number of application instances.
//
// It accepts any redis.UniversalClient (single node, cluster, ring, sentinel).
type RedisStore struct {
	client   redis.UniversalClient
	verified atomic.Bool
}

var _ Verifier = (*RedisStore)(nil)

// NewRedisStore pings Redis, checks its version and loads the increment
// script, failing fast when any of that is not possible.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("limiter: redis client cannot be nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := &RedisStore{client: client}
	if err := s.Verify(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Verify checks that the server supports scripting and warms the script
// cache. A successful result is remembered.
func (s *RedisStore) Verify(ctx context.Context) error {
	if s.verified.Load() {
		return nil
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return err
	}
	info, err := s.client.Info(ctx, "server").Result()
	if err != nil {
		return err
	}
	if err := checkRedisVersion(info); err != nil {
		return err
	}
	if err := s.client.ScriptLoad(ctx, incrExpireScript).Err(); err != nil {
		return err
	}
	s.verified.Store(true)
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	v, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	switch d {
	case -1:
		return KeyNoExpiry, nil
	case -2:
		return KeyMissing, nil
	}
	return d, nil
}

// IncrAndMaybeExpire runs the cached script, falling back to sending the
// script body when the server reports NOSCRIPT (restart, SCRIPT FLUSH,
// failover). Both paths are the same atomic script.
func (s *RedisStore) IncrAndMaybeExpire(ctx context.Context, key string, window time.Duration, amount int64) (int64, error) {
	keys := []string{key}
	windowMs := window.Milliseconds()

	current, err := s.client.EvalSha(ctx, incrExpireSHA, keys, windowMs, amount).Int64()
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		current, err = s.client.Eval(ctx, incrExpireScript, keys, windowMs, amount).Int64()
	}
	if err != nil {
		return 0, err
	}
	return current, nil
}

// Scan walks the keyspace with SCAN MATCH. Every master of a cluster and every
// shard of a ring is scanned.
func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(prefix) + "*"

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	scan := func(ctx context.Context, c redis.Cmdable) error {
		iter := c.Scan(ctx, 0, pattern, scanCount).Iterator()
		for iter.Next(ctx) {
			mu.Lock()
			seen[iter.Val()] = struct{}{}
			mu.Unlock()
		}
		return iter.Err()
	}

	var err error
	switch c := s.client.(type) {
	case *redis.ClusterClient:
		err = c.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return scan(ctx, node)
		})
	case *redis.Ring:
		err = c.ForEachShard(ctx, func(ctx context.Context, shard *redis.Client) error {
			return scan(ctx, shard)
		})
	default:
		err = scan(ctx, s.client)
	}
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys, nil
}

// Delete issues one DEL per key in a pipeline so keys in different cluster
// slots can be removed together.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, k)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func checkRedisVersion(info string) error {
	raw, err := redisVersion(info)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedBackend, err)
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: unparsable redis_version %q: %v", ErrUnsupportedBackend, raw, err)
	}
	if v.LessThan(minRedisVersion) {
		return fmt.Errorf("%w: redis %s is older than %s", ErrUnsupportedBackend, v, minRedisVersion)
	}
	return nil
}

// redisVersion extracts redis_version from an INFO reply.
func redisVersion(info string) (string, error) {
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if v, ok := strings.CutPrefix(line, "redis_version:"); ok {
			return v, nil
		}
	}
	return "", errors.New("redis_version missing from INFO reply")
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
