package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultRedisPrefix namespaces the keys written by the Redis store.
const DefaultRedisPrefix = "quotecache:quote:"

// Redis stores one JSON record per ticker under prefix+ticker.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// DialRedis connects to addr and checks the connection before returning.
func DialRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedis(client, prefix), nil
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) key(ticker string) string { return r.prefix + ticker }

func (r *Redis) Put(ctx context.Context, rec Record) error {
	if err := Validate(rec); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := r.client.Set(ctx, r.key(rec.Quote.Ticker), b, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", rec.Quote.Ticker, err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context) ([]Record, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		b, err := r.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", k, err)
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			log.WithField("key", k).WithError(err).Warn("redis store: skipping undecodable record")
			continue
		}
		if err := Validate(rec); err != nil {
			log.WithField("key", k).WithError(err).Warn("redis store: skipping record")
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quote.Ticker < out[j].Quote.Ticker })
	return out, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

func (r *Redis) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s*: %w", r.prefix, err)
	}
	return keys, nil
}
