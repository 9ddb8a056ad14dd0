package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/taskguard/component"
	"github.com/kbukum/taskguard/logger"
)

// Component runs the Redis client as part of the service lifecycle. The
// client exists from construction so the queue store can be handed out
// before Start.
type Component struct {
	client *Client
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent creates the client for cfg.
func NewComponent(cfg Config, log *logger.Logger) (*Component, error) {
	if log == nil {
		log = logger.NewNop()
	}
	client, err := New(cfg, log.WithComponent("redis"))
	if err != nil {
		return nil, err
	}
	return &Component{client: client}, nil
}

// Client returns the component's client.
func (c *Component) Client() *Client { return c.client }

func (c *Component) Name() string { return "redis" }

// Start fails when Redis is unreachable.
func (c *Component) Start(ctx context.Context) error {
	if _, err := c.client.Ping(ctx); err != nil {
		return err
	}
	return nil
}

func (c *Component) Stop(context.Context) error { return c.client.Close() }

// Health pings Redis. A reply slower than half the read timeout is
// degraded; no reply is unhealthy.
func (c *Component) Health(ctx context.Context) component.Health {
	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	rtt, err := c.client.Ping(ctx)
	if err != nil {
		h.Status = component.StatusUnhealthy
		h.Message = err.Error()
		return h
	}
	ps := c.client.PoolStats()
	h.Message = fmt.Sprintf("ping %s, conns %d idle %d, pool timeouts %d", rtt.Round(10*time.Microsecond), ps.TotalConns, ps.IdleConns, ps.Timeouts)
	if rtt > c.client.cfg.ReadTimeout/2 {
		h.Status = component.StatusDegraded
	}
	return h
}

// Describe summarizes the connection for the startup log.
func (c *Component) Describe() component.Description {
	cfg := c.client.cfg
	return component.Description{
		Name:    "Redis",
		Type:    "redis",
		Details: fmt.Sprintf("%s pool=%d prefix=%s", cfg.endpoint(), cfg.PoolSize, cfg.KeyPrefix),
	}
}
