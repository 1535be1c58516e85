// Package queue decouples side effects (email, SMS, inventory checks,
// order workflows) from the request path. Tasks run asynchronously,
// best effort, with bounded retries; a task failure never propagates
// back to the request that enqueued it.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

const DefaultMaxAttempts = 3

// Task is a unit of background work.
type Task struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// Options tune a single enqueue call.
type Options struct {
	// Attempts caps retries for this task; 0 means DefaultMaxAttempts.
	Attempts int
	// Delay postpones the first execution.
	Delay time.Duration
}

// Processor handles one task. Returning an error requeues the task until
// its attempts are exhausted.
type Processor func(ctx context.Context, t Task) error

// Queue accepts tasks for asynchronous execution. Tasks of the same type
// run strictly FIFO with a single task in flight; there is no ordering
// guarantee across distinct task types on a broker-backed queue.
type Queue interface {
	Enqueue(ctx context.Context, taskType string, payload any, opts Options) (string, error)
	RegisterProcessor(taskType string, fn Processor)
}
