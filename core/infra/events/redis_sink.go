package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cordum/jobcore/core/infra/redisutil"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisURL       = "redis://localhost:6379"
	defaultRedisKeyPrefix = "jobcore:events"
	defaultRedisMaxLen    = 1000
	redisOpTimeout        = 2 * time.Second
)

// RedisSink appends events to capped Redis lists, one list per source.
// The newest event sits at index 0.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
}

// NewRedisSink connects to url and keeps at most maxLen events per source.
func NewRedisSink(url string, maxLen int64) (*RedisSink, error) {
	if url == "" {
		url = defaultRedisURL
	}
	client, err := redisutil.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if maxLen <= 0 {
		maxLen = defaultRedisMaxLen
	}
	return &RedisSink{client: client, prefix: defaultRedisKeyPrefix, maxLen: maxLen}, nil
}

// Close closes the underlying client.
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Emit pushes ev onto the list for its source and trims the list.
func (s *RedisSink) Emit(ctx context.Context, ev Event) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis sink unavailable")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisOpTimeout)
	defer cancel()
	key := s.key(ev.Source)
	pipe := s.client.TxPipeline()
	pipe.LPush(cctx, key, payload)
	pipe.LTrim(cctx, key, 0, s.maxLen-1)
	_, err = pipe.Exec(cctx)
	return err
}

// Recent returns up to limit events for source, newest first.
func (s *RedisSink) Recent(ctx context.Context, source Source, limit int64) ([]Event, error) {
	if limit <= 0 || limit > s.maxLen {
		limit = s.maxLen
	}
	raw, err := s.client.LRange(ctx, s.key(source), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raw))
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *RedisSink) key(source Source) string {
	if source == "" {
		source = "unknown"
	}
	return s.prefix + ":" + string(source)
}
