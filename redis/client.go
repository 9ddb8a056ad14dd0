package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/taskguard/logger"
)

// Client is the go-redis client the queue store runs on.
type Client struct {
	rdb *goredis.Client
	cfg Config
	log *logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// New creates a client from cfg. It does not dial; use Ping to check
// connectivity.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is disabled")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("redis config: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	c := &Client{rdb: goredis.NewClient(opts), cfg: cfg, log: log}
	log.Info("Redis client created", logger.Fields(
		"endpoint", cfg.endpoint(),
		"pool_size", opts.PoolSize,
		"key_prefix", cfg.KeyPrefix,
	))
	return c, nil
}

func (c *Config) options() (*goredis.Options, error) {
	opts := &goredis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB}
	if c.URL != "" {
		parsed, err := goredis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		opts = parsed
	}
	opts.PoolSize = c.PoolSize
	opts.MinIdleConns = c.MinIdleConns
	opts.MaxRetries = c.MaxRetries
	opts.DialTimeout = c.DialTimeout
	opts.ReadTimeout = c.ReadTimeout
	opts.WriteTimeout = c.WriteTimeout
	opts.ConnMaxIdleTime = c.ConnMaxIdleTime
	return opts, nil
}

// Ping round-trips a PING and returns how long it took.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	began := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("redis ping: %w", err)
	}
	return time.Since(began), nil
}

// PoolStats reports connection pool counters.
func (c *Client) PoolStats() *goredis.PoolStats {
	return c.rdb.PoolStats()
}

// QueueStore returns a queue store on this connection, namespaced by the
// configured key prefix.
func (c *Client) QueueStore() *QueueStore {
	return NewQueueStore(c.rdb, WithKeyPrefix(c.cfg.KeyPrefix))
}

// Close closes the connection pool. Later calls return the first result.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.log.Info("Closing redis connection")
		c.closeErr = c.rdb.Close()
	})
	return c.closeErr
}
