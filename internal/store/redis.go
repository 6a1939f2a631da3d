package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// LockTTL bounds how long a crashed holder can keep a host locked.
	LockTTL time.Duration
	// LockPoll is the retry interval while waiting for a lock.
	LockPoll time.Duration
}

var _ Storage = (*Redis)(nil)

// Redis is the Redis Storage backend. Locks are SET NX keys so several
// Beacon processes can share one Redis.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
	tokens *tokenMap
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.LockPoll <= 0 {
		opts.LockPoll = 25 * time.Millisecond
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", opts.Addr, err)
	}
	return &Redis{client: client, opts: opts, tokens: newTokenMap()}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return b, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.SetArgs(ctx, key, value, redis.SetArgs{KeepTTL: true}).Err(); err != nil {
		return fmt.Errorf("putting %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Lock polls SET NX on "lock:<key>" until it succeeds or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) error {
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, "lock:"+key, token, r.opts.LockTTL).Result()
		if err != nil {
			return fmt.Errorf("locking %s: %w", key, err)
		}
		if ok {
			r.tokens.set(key, token)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.LockPoll):
		}
	}
}

// unlockScript deletes the lock only when it still carries our token, so a
// holder whose lock expired cannot release someone else's.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (r *Redis) Unlock(ctx context.Context, key string) error {
	token, ok := r.tokens.take(key)
	if !ok {
		return nil
	}
	if err := unlockScript.Run(ctx, r.client, []string{"lock:" + key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("unlocking %s: %w", key, err)
	}
	return nil
}

func (r *Redis) ListGet(ctx context.Context, key string, index, count int) ([][]byte, error) {
	if count == 0 {
		return nil, nil
	}
	start := int64(index)
	stop := int64(-1)
	if count > 0 {
		stop = start + int64(count) - 1
		if start < 0 && stop >= 0 {
			stop = -1
		}
	}
	vals, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("reading list %s: %w", key, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (r *Redis) ListPush(ctx context.Context, key string, items ...[]byte) (int, error) {
	args := make([]any, len(items))
	for i, b := range items {
		args[i] = b
	}
	n, err := r.client.RPush(ctx, key, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("pushing to list %s: %w", key, err)
	}
	return int(n), nil
}

func (r *Redis) ListSplice(ctx context.Context, key string, index, count int, items ...[]byte) error {
	length, err := r.client.LLen(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("reading list %s: %w", key, err)
	}
	start, end := span(int(length), index, count)

	if end-start == len(items) {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, b := range items {
				pipe.LSet(ctx, key, int64(start+i), b)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("splicing list %s: %w", key, err)
		}
		return nil
	}

	vals, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("reading list %s: %w", key, err)
	}
	all := make([][]byte, len(vals))
	for i, v := range vals {
		all[i] = []byte(v)
	}
	all = splice(all, start, end, items)

	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("reading ttl of %s: %w", key, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(all) > 0 {
			args := make([]any, len(all))
			for i, b := range all {
				args[i] = b
			}
			pipe.RPush(ctx, key, args...)
			if ttl > 0 {
				pipe.PExpire(ctx, key, ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("splicing list %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Expire(ctx context.Context, key string, at time.Time) error {
	if err := r.client.ExpireAt(ctx, key, at).Err(); err != nil {
		return fmt.Errorf("expiring %s: %w", key, err)
	}
	return nil
}
