package kafka

import (
	"encoding/json"
	"time"

	"github.com/kbukum/taskguard/queue"
)

// Envelope is the message value written for every job event.
type Envelope struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Source      string      `json:"source"`
	ContentType string      `json:"content_type"`
	Version     string      `json:"version"`
	Timestamp   time.Time   `json:"timestamp"`
	Subject     string      `json:"subject"`
	Data        queue.Event `json:"data"`
}

// NewEnvelope wraps a job event. The subject is the job id, so all events
// of one job land on one partition in order.
func NewEnvelope(e queue.Event, source string) Envelope {
	return Envelope{
		ID:          e.JobID + ":" + string(e.Type) + ":" + e.Timestamp.UTC().Format(time.RFC3339Nano),
		Type:        "taskguard.job." + string(e.Type),
		Source:      source,
		ContentType: "application/json",
		Version:     "1.0",
		Timestamp:   e.Timestamp,
		Subject:     e.JobID,
		Data:        e,
	}
}

// ToJSON marshals the envelope.
func (e Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
