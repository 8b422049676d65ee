// Package mirror copies the latest telemetry snapshot into Redis so other
// processes on the station can read it without polling the web API. Only
// the current value is kept, with a TTL so a dead station is visible.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"groundstation/internal/metrics"
)

// Client is the subset of Redis used by the mirror.
type Client interface {
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

type redisClient struct {
	rdb *redis.Client
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, addr string, db int) (Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	c := &redisClient{rdb: rdb}
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return c, nil
}

func (c *redisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *redisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *redisClient) Close() error {
	return c.rdb.Close()
}

type Config struct {
	Key      string
	TTL      time.Duration
	Interval time.Duration
}

// Mirror periodically writes Source() as JSON under Key.
type Mirror struct {
	Client Client
	Source func() any
	Config Config
}

func (m *Mirror) Run(ctx context.Context) error {
	if m == nil || m.Client == nil || m.Source == nil {
		return fmt.Errorf("mirror: client and source are required")
	}
	interval := m.Config.Interval
	if interval <= 0 {
		interval = time.Second
	}
	log.Printf("mirror enabled key=%s interval=%s ttl=%s", m.Config.Key, interval, m.Config.TTL)

	t := time.NewTicker(interval)
	defer t.Stop()
	failing := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		err := m.Publish(ctx)
		switch {
		case err != nil && !failing:
			log.Printf("mirror write failed (will retry): %v", err)
			failing = true
		case err == nil && failing:
			log.Printf("mirror write recovered")
			failing = false
		}
	}
}

// Publish writes one snapshot.
func (m *Mirror) Publish(ctx context.Context) error {
	b, err := json.Marshal(m.Source())
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.Client.Set(wctx, m.Config.Key, b, m.Config.TTL); err != nil {
		metrics.MirrorErrors.Inc()
		return fmt.Errorf("redis SET %s: %w", m.Config.Key, err)
	}
	return nil
}
