package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbukum/taskguard/component"
)

// Component manages the publisher lifecycle.
type Component struct {
	publisher *Publisher
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent wraps publisher.
func NewComponent(publisher *Publisher) *Component {
	return &Component{publisher: publisher}
}

// Name returns the component name.
func (c *Component) Name() string { return "kafka" }

// Start does nothing; the writer connects on first publish.
func (c *Component) Start(context.Context) error { return nil }

// Stop flushes and closes the publisher.
func (c *Component) Stop(context.Context) error {
	return c.publisher.Close()
}

// Health is degraded while the publish breaker is not closed. Events are
// best effort, so Kafka never makes the service unhealthy.
func (c *Component) Health(context.Context) component.Health {
	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	if c.publisher.breakerOpen() {
		st := c.publisher.Stats()
		h.Status = component.StatusDegraded
		h.Message = fmt.Sprintf("breaker %s, %d events dropped", st.Breaker, st.Dropped)
	}
	return h
}

// Describe implements component.Describable.
func (c *Component) Describe() component.Description {
	cfg := c.publisher.cfg
	return component.Description{
		Name:    "Kafka",
		Type:    "kafka",
		Details: fmt.Sprintf("%s topic=%s", strings.Join(cfg.Brokers, ","), cfg.Topic),
	}
}
