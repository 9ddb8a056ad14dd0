package logger

import "time"

// Field keys shared by every package so log queries can rely on them.
const (
	FieldComponent = "component"
	FieldQueue     = "queue"
	FieldJobID     = "job_id"
	FieldJobName   = "job_name"
	FieldAttempt   = "attempt"
	FieldStatus    = "status"
	FieldBreaker   = "breaker"
	FieldBulkhead  = "bulkhead"
	FieldState     = "state"
	FieldOperation = "operation"
	FieldError     = "error"
	FieldDuration  = "duration_ms"
	FieldDelay     = "delay_ms"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"
)

// Fields pairs up alternating keys and values. Non-string keys and a
// trailing key without a value are dropped.
//
//	log.Info("Job added", logger.Fields("queue", "mail", "job_id", id))
func Fields(kvs ...any) map[string]any {
	m := make(map[string]any, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// ErrorFields describes a failed operation.
func ErrorFields(op string, err error) map[string]any {
	return MergeWithError(map[string]any{FieldOperation: op}, err)
}

// DurationFields describes a timed operation; the duration is in ms.
func DurationFields(op string, d time.Duration) map[string]any {
	return map[string]any{FieldOperation: op, FieldDuration: d.Milliseconds()}
}

// JobFields identifies a job.
func JobFields(queue, id, name string) map[string]any {
	return map[string]any{FieldQueue: queue, FieldJobID: id, FieldJobName: name}
}

// BreakerFields describes a breaker state change.
func BreakerFields(name, from, to string) map[string]any {
	return map[string]any{FieldBreaker: name, "from": from, FieldState: to}
}

// MergeWithError sets the error field on fields, allocating when nil.
func MergeWithError(fields map[string]any, err error) map[string]any {
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	if err != nil {
		fields[FieldError] = err.Error()
	}
	return fields
}
