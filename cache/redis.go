package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultTierPrefix = "accesswatch:query:"
	DefaultTierTTL    = 10 * time.Minute
	scanBatch         = 100
)

// RedisTier shares query results between dashboard processes.
type RedisTier struct {
	rdb    goredis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisTier(rdb goredis.Cmdable, prefix string, ttl time.Duration) *RedisTier {
	if prefix == "" {
		prefix = DefaultTierPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTierTTL
	}
	return &RedisTier{rdb: rdb, prefix: prefix, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := t.rdb.Get(ctx, t.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (t *RedisTier) Set(ctx context.Context, key string, data []byte) error {
	return t.rdb.Set(ctx, t.prefix+key, data, t.ttl).Err()
}

// Delete removes every key MatchKey would match for pattern.
func (t *RedisTier) Delete(ctx context.Context, pattern string) error {
	if pattern == "" {
		return nil
	}

	base := t.prefix + pattern
	keys := []string{base}

	globs := []string{escapeGlob(base) + "/*", escapeGlob(base) + `\?*`}
	if strings.HasSuffix(pattern, "/") {
		globs = []string{escapeGlob(base) + "*"}
	}

	for _, glob := range globs {
		found, err := t.scan(ctx, glob)
		if err != nil {
			return err
		}
		keys = append(keys, found...)
	}

	if err := t.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cached keys: %w", err)
	}
	return nil
}

func (t *RedisTier) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := t.rdb.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// escapeGlob quotes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^', '-':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
