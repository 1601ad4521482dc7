package history

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/telnet-web-access/backend/internal/model"
)

// RedisStore keeps the log in a single redis string value, appended with
// APPEND and read back with GETRANGE.
type RedisStore struct {
	client   redis.UniversalClient
	key      string
	endpoint model.Endpoint
	maxBytes int64
}

// RedisConfig contains configuration options for redis-backed history.
type RedisConfig struct {
	// Client is the redis client to use. If nil, a client for localhost:6379 is created.
	Client redis.UniversalClient
	// KeyPrefix is prepended to every history key. Defaults to "telnet:history:".
	KeyPrefix string
	// MaxBytes bounds each log the same way FileStore does. Zero disables trimming.
	MaxBytes int64
}

// appendScript appends ARGV[1] and, once the value grows past twice
// ARGV[2] bytes, trims it to its last ARGV[2] bytes in the same step.
var appendScript = redis.NewScript(`
local size = redis.call("APPEND", KEYS[1], ARGV[1])
local max = tonumber(ARGV[2])
if max > 0 and size > 2 * max then
	local keep = redis.call("GETRANGE", KEYS[1], -max, -1)
	redis.call("SET", KEYS[1], keep)
	return string.len(keep)
end
return size
`)

// Append appends data to the endpoint's value. Append and compaction run as
// one script so concurrent writers of the same endpoint never lose bytes.
func (s *RedisStore) Append(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	err := appendScript.Run(ctx, s.client, []string{s.key}, string(data), s.maxBytes).Err()
	if err != nil {
		return model.NewOpError("history append", s.endpoint, model.ErrStorage, err)
	}
	return nil
}

// Tail returns up to maxBytes of the newest data. A missing key reads as empty.
func (s *RedisStore) Tail(ctx context.Context, maxBytes int) ([]byte, error) {
	if err := checkTail(maxBytes); err != nil {
		return nil, err
	}
	if maxBytes == 0 {
		return []byte{}, nil
	}

	val, err := s.client.GetRange(ctx, s.key, -int64(maxBytes), -1).Result()
	if err != nil && err != redis.Nil {
		return nil, model.NewOpError("history tail", s.endpoint, model.ErrStorage, err)
	}
	return []byte(val), nil
}

// RedisResolver hands out RedisStores sharing one client.
type RedisResolver struct {
	client    redis.UniversalClient
	keyPrefix string
	maxBytes  int64
}

// NewRedisResolver creates a resolver from config.
func NewRedisResolver(config RedisConfig) *RedisResolver {
	client := config.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr: "localhost:6379",
		})
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "telnet:history:"
	}

	return &RedisResolver{
		client:    client,
		keyPrefix: keyPrefix,
		maxBytes:  config.MaxBytes,
	}
}

// Resolve returns the RedisStore for ep.
func (r *RedisResolver) Resolve(ep model.Endpoint) (Store, error) {
	if err := checkEndpoint(ep); err != nil {
		return nil, err
	}
	return &RedisStore{
		client:   r.client,
		key:      r.keyPrefix + ep.String(),
		endpoint: ep,
		maxBytes: r.maxBytes,
	}, nil
}

// Release is a no-op: redis stores hold no local state.
func (r *RedisResolver) Release(model.Endpoint) {}

// Lookup returns the RedisStore for ep. A missing key reads as empty, so
// nothing is created.
func (r *RedisResolver) Lookup(ep model.Endpoint) (Store, bool) {
	store, err := r.Resolve(ep)
	if err != nil {
		return nil, false
	}
	return store, true
}

// Ping checks connectivity to redis.
func (r *RedisResolver) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (r *RedisResolver) Close() error {
	return r.client.Close()
}
