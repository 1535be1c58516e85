package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"everestmart-backend/internal/stores/kafka"
	"everestmart-backend/pkg/logkey"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// Kafka is the broker-backed queue variant, selected at wiring time when
// brokers are configured. Task envelopes are produced to a single topic
// keyed by task type, so tasks of one type land on one partition and
// stay FIFO; the consumer side dispatches to registered processors with
// exponential backoff instead of tail-requeueing.
type Kafka struct {
	producer *kafka.Conf
	consumer *kafka.Conf
	topic    string

	mu    sync.Mutex
	procs map[string][]Processor

	onFailed func(Task, error)
}

func NewKafka(producer, consumer *kafka.Conf, topic string) (*Kafka, error) {
	if producer == nil {
		return nil, fmt.Errorf("kafka producer conf is nil")
	}
	if topic == "" {
		topic = kafka.TopicAutomationTasks
	}
	return &Kafka{
		producer: producer,
		consumer: consumer,
		topic:    topic,
		procs:    make(map[string][]Processor),
	}, nil
}

func (k *Kafka) OnFailed(fn func(Task, error)) { k.onFailed = fn }

func (k *Kafka) RegisterProcessor(taskType string, fn Processor) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.procs[taskType] = append(k.procs[taskType], fn)
}

func (k *Kafka) Enqueue(_ context.Context, taskType string, payload any, opts Options) (string, error) {
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

	envelope, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshaling task envelope: %w", err)
	}
	if err := k.producer.ProduceMessage(k.topic, []byte(taskType), envelope); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Run consumes task envelopes until the context is cancelled. It is a
// no-op when the queue was wired producer-only.
func (k *Kafka) Run(ctx context.Context) error {
	if k.consumer == nil {
		return fmt.Errorf("kafka queue has no consumer configured")
	}

	return k.consumer.PollRecords(ctx, func(_ string, _, value []byte) error {
		var task Task
		if err := json.Unmarshal(value, &task); err != nil {
			slog.Error("dropping undecodable task", slog.String(logkey.ERROR, err.Error()))
			return nil
		}
		k.dispatch(ctx, task)
		return nil
	})
}

func (k *Kafka) dispatch(ctx context.Context, task Task) {
	k.mu.Lock()
	handlers := append([]Processor(nil), k.procs[task.Type]...)
	k.mu.Unlock()
	if len(handlers) == 0 {
		return
	}

	backoff := retry.WithMaxRetries(uint64(task.MaxAttempts-1), retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		for _, h := range handlers {
			if err := h(ctx, task); err != nil {
				return retry.RetryableError(err)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("task failed permanently",
			slog.String("TaskID", task.ID), slog.String("Type", task.Type),
			slog.String(logkey.ERROR, err.Error()))
		if k.onFailed != nil {
			k.onFailed(task, err)
		}
	}
}
