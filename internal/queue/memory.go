package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"everestmart-backend/pkg/logkey"

	"github.com/google/uuid"
)

// Memory is the in-process queue used when no broker is configured.
// One task is in flight at a time; a failed task is pushed back to the
// tail until its attempts run out, then it is dropped. Nothing survives
// a restart, which is acceptable because every side effect routed
// through it is idempotent-safe or non-critical.
type Memory struct {
	name string

	mu         sync.Mutex
	idle       *sync.Cond
	tasks      []Task
	processing bool
	procs      map[string][]Processor

	onCompleted func(Task)
	onFailed    func(Task, error)

	taskTimeout time.Duration
}

func NewMemory(name string) *Memory {
	m := &Memory{
		name:        name,
		procs:       make(map[string][]Processor),
		taskTimeout: 30 * time.Second,
	}
	m.idle = sync.NewCond(&m.mu)
	return m
}

// OnCompleted registers a callback fired after a task succeeds.
func (m *Memory) OnCompleted(fn func(Task)) { m.onCompleted = fn }

// OnFailed registers a callback fired once a task exhausts its attempts.
func (m *Memory) OnFailed(fn func(Task, error)) { m.onFailed = fn }

func (m *Memory) RegisterProcessor(taskType string, fn Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs[taskType] = append(m.procs[taskType], fn)
}

func (m *Memory) Enqueue(_ context.Context, taskType string, payload any, opts Options) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload for %s: %w", taskType, err)
	}

	maxAttempts := opts.Attempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	task := Task{
		ID:          uuid.NewString(),
		Type:        taskType,
		Payload:     data,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}

	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, func() { m.push(task) })
		return task.ID, nil
	}

	m.push(task)
	return task.ID, nil
}

func (m *Memory) push(task Task) {
	m.mu.Lock()
	m.tasks = append(m.tasks, task)
	m.mu.Unlock()
	go m.processNext()
}

// WaitingCount returns the number of tasks not yet picked up.
func (m *Memory) WaitingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// WaitIdle blocks until the queue is empty with no task in flight, or
// the context is done.
func (m *Memory) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	cancelled := false
	go func() {
		defer close(done)
		m.mu.Lock()
		for (len(m.tasks) > 0 || m.processing) && !cancelled {
			m.idle.Wait()
		}
		m.mu.Unlock()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		cancelled = true
		m.mu.Unlock()
		m.idle.Broadcast()
		// the waiter sees the flag and exits before we return
		<-done
		return ctx.Err()
	}
}

func (m *Memory) processNext() {
	m.mu.Lock()
	if m.processing || len(m.tasks) == 0 {
		m.mu.Unlock()
		return
	}
	task := m.tasks[0]
	m.tasks = m.tasks[1:]
	m.processing = true
	handlers := append([]Processor(nil), m.procs[task.Type]...)
	m.mu.Unlock()

	err := m.run(task, handlers)

	m.mu.Lock()
	if err != nil {
		task.Attempts++
		if task.Attempts < task.MaxAttempts {
			slog.Warn("task failed, retrying",
				slog.String("Queue", m.name), slog.String("TaskID", task.ID),
				slog.String("Type", task.Type),
				slog.Int("Attempt", task.Attempts), slog.Int("MaxAttempts", task.MaxAttempts),
				slog.String(logkey.ERROR, err.Error()))
			m.tasks = append(m.tasks, task)
		} else {
			slog.Error("task failed permanently",
				slog.String("Queue", m.name), slog.String("TaskID", task.ID),
				slog.String("Type", task.Type), slog.String(logkey.ERROR, err.Error()))
			if m.onFailed != nil {
				m.onFailed(task, err)
			}
		}
	} else if m.onCompleted != nil {
		m.onCompleted(task)
	}
	m.processing = false
	more := len(m.tasks) > 0
	m.idle.Broadcast()
	m.mu.Unlock()

	if more {
		go m.processNext()
	}
}

func (m *Memory) run(task Task, handlers []Processor) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.taskTimeout)
	defer cancel()

	for _, h := range handlers {
		if err := h(ctx, task); err != nil {
			return err
		}
	}
	return nil
}
