package component

import "context"

// HealthStatus is a component's health state.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Health is one component's answer to a health check. The registry fills
// LatencyMs with how long the check took.
type Health struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMs float64      `json:"latency_ms"`
}

// Component is anything the registry starts, stops and health-checks:
// the Redis client, the queues, the event publisher, the HTTP server.
// Names are unique within a registry.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	// Stop releases resources. It must be safe to call after a failed Start.
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// Description is what StartAll logs for a Describable component.
type Description struct {
	Name    string // display name, Name() when empty
	Type    string // "redis", "queue", "kafka", "server"
	Details string // e.g. "localhost:6379/0 pool=10"
}

// Describable components report their configuration at startup.
type Describable interface {
	Describe() Description
}

// rank orders statuses from best to worst.
var rank = map[HealthStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

// Overall is the worst status among healths; healthy when empty.
func Overall(healths []Health) HealthStatus {
	worst := StatusHealthy
	for _, h := range healths {
		if rank[h.Status] > rank[worst] {
			worst = h.Status
		}
	}
	return worst
}
