package kafka

import "github.com/kbukum/taskguard/resilience"

// Stats summarizes what the publisher has done since it was created.
type Stats struct {
	Topic string `json:"topic"`
	// Published and Dropped count events, not writer batches. A dropped
	// event failed every attempt or was rejected by the breaker.
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`

	Writes      int64   `json:"writes"`
	WriteErrors int64   `json:"write_errors"`
	Retries     int64   `json:"retries"`
	AvgWriteMs  float64 `json:"avg_write_ms"`

	Breaker string `json:"breaker,omitempty"`
}

// Stats reads the event counters and the writer's counters. kafka-go
// resets the writer counters on every read, so Writes, WriteErrors and
// Retries cover the period since the previous call.
func (p *Publisher) Stats() Stats {
	ws := p.writer.Stats()
	st := Stats{
		Topic:       p.cfg.Topic,
		Published:   p.published.Load(),
		Dropped:     p.dropped.Load(),
		Writes:      ws.Writes,
		WriteErrors: ws.Errors,
		Retries:     ws.Retries,
		AvgWriteMs:  float64(ws.WriteTime.Avg.Microseconds()) / 1000,
	}
	if p.breaker != nil {
		st.Breaker = p.breaker.State().String()
	}
	return st
}

func (p *Publisher) breakerOpen() bool {
	return p.breaker != nil && p.breaker.State() != resilience.StateClosed
}
