// Package redis is the shared Redis connection: a namespaced key/value cache for
// auth tokens and the Pub/Sub transport of the live relay.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clearchat/internal/config"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultHost      = "127.0.0.1"
	defaultPort      = 6379
	defaultNamespace = "clearchat:"
	pingTimeout      = 3 * time.Second
)

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

var errNotInitialized = errors.New("redis client not initialized")

// Client wraps a go-redis client. Cache keys are prefixed with a namespace so
// several deployments can share one database; Pub/Sub channels are not.
type Client struct {
	inner     *redis.Client
	namespace string
}

// NewRedisClient connects with the redis section of cfg and pings the server.
func NewRedisClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	inner := redis.NewClient(options(cfg.Redis))
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := inner.Ping(ctx).Err(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{inner: inner, namespace: defaultNamespace}, nil
}

func options(rc config.RedisConfig) *redis.Options {
	host := rc.Host
	if host == "" {
		host = defaultHost
	}
	port := rc.Port
	if port == 0 {
		port = defaultPort
	}
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: rc.Username,
		Password: rc.Password,
		DB:       rc.DB,
	}
}

// Key returns the stored name of a cache key.
func (c *Client) Key(key string) string {
	return c.namespace + key
}

func (c *Client) ready() error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return nil
}

// Set stores a key with TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.inner.Set(ctx, c.Key(key), value, ttl).Err()
}

// Get fetches the key as string. A missing key yields ErrCacheMiss.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	return c.inner.Get(ctx, c.Key(key)).Result()
}

// Del removes keys in a single round trip.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = c.Key(k)
	}
	return c.inner.Del(ctx, names...).Err()
}

// PublishJSON encodes v and broadcasts it on channel.
func (c *Client) PublishJSON(ctx context.Context, channel string, v interface{}) error {
	if err := c.ready(); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", channel, err)
	}
	return c.inner.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a Pub/Sub subscription and waits for the server to confirm it,
// so a publish issued right after returns is not missed. Callers must Close it.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	ps := c.inner.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}
	return ps, nil
}

// Close closes client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// Raw exposes underlying go-redis client.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.inner
}
