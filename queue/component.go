package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbukum/taskguard/component"
)

// Component runs every queue of a registry as one lifecycle component.
type Component struct {
	registry *Registry
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent wraps registry.
func NewComponent(registry *Registry) *Component {
	return &Component{registry: registry}
}

// Name implements component.Component.
func (c *Component) Name() string { return "queues" }

// Start begins processing on every open queue.
func (c *Component) Start(context.Context) error {
	c.registry.StartAll()
	return nil
}

// Stop stops admission and waits for in-flight handlers until ctx ends.
func (c *Component) Stop(ctx context.Context) error {
	return c.registry.Drain(ctx)
}

// Health is unhealthy when the store cannot be read and degraded when a
// queue has stopped processing. Dropped events are reported but do not
// change the status.
func (c *Component) Health(ctx context.Context) component.Health {
	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	if _, err := c.registry.Stats(ctx); err != nil {
		h.Status = component.StatusUnhealthy
		h.Message = err.Error()
		return h
	}
	var stopped, dropping []string
	for _, q := range c.registry.all() {
		if !q.IsRunning() {
			stopped = append(stopped, q.Name())
		}
		if n := q.DroppedEvents(); n > 0 {
			dropping = append(dropping, fmt.Sprintf("%s=%d", q.Name(), n))
		}
	}
	var notes []string
	if len(stopped) > 0 {
		h.Status = component.StatusDegraded
		notes = append(notes, "not processing: "+strings.Join(stopped, ", "))
	}
	if len(dropping) > 0 {
		notes = append(notes, "events dropped: "+strings.Join(dropping, ", "))
	}
	h.Message = strings.Join(notes, "; ")
	return h
}

// Describe implements component.Describable.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Job queues",
		Type:    "queue",
		Details: fmt.Sprintf("%d queues [%s]", len(c.registry.Names()), strings.Join(c.registry.Names(), ", ")),
	}
}
