package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitIdle(t *testing.T, m *Memory) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.WaitIdle(ctx))
}

func TestMemoryProcessesInOrder(t *testing.T) {
	m := NewMemory("test")

	var mu sync.Mutex
	var got []string
	m.RegisterProcessor("greet", func(_ context.Context, task Task) error {
		var payload struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(task.Payload, &payload))
		mu.Lock()
		got = append(got, payload.Name)
		mu.Unlock()
		return nil
	})

	for _, name := range []string{"a", "b", "c"} {
		_, err := m.Enqueue(context.Background(), "greet", map[string]string{"name": name}, Options{})
		require.NoError(t, err)
	}
	waitIdle(t, m)

	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, m.WaitingCount())
}

func TestMemoryRetriesThenSucceeds(t *testing.T) {
	m := NewMemory("test")

	var mu sync.Mutex
	calls := 0
	m.RegisterProcessor("flaky", func(context.Context, Task) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	var completed []Task
	m.OnCompleted(func(task Task) {
		mu.Lock()
		completed = append(completed, task)
		mu.Unlock()
	})

	_, err := m.Enqueue(context.Background(), "flaky", nil, Options{})
	require.NoError(t, err)
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
	assert.Len(t, completed, 1)
}

func TestMemoryExhaustsAttemptsAndReportsFailure(t *testing.T) {
	m := NewMemory("test")

	var mu sync.Mutex
	calls := 0
	m.RegisterProcessor("doomed", func(context.Context, Task) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("permanent")
	})

	var failed []Task
	var failedErr error
	m.OnFailed(func(task Task, err error) {
		mu.Lock()
		failed = append(failed, task)
		failedErr = err
		mu.Unlock()
	})

	_, err := m.Enqueue(context.Background(), "doomed", nil, Options{Attempts: 2})
	require.NoError(t, err)
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
	require.Len(t, failed, 1)
	assert.EqualError(t, failedErr, "permanent")
}

func TestMemoryFailedTaskRequeuesToTail(t *testing.T) {
	m := NewMemory("test")

	var mu sync.Mutex
	var got []string
	m.RegisterProcessor("step", func(_ context.Context, task Task) error {
		var payload struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(task.Payload, &payload))
		mu.Lock()
		defer mu.Unlock()
		got = append(got, payload.Name)
		// first fails once, so it should land behind second
		if payload.Name == "first" && task.Attempts == 0 {
			return errors.New("try later")
		}
		return nil
	})

	_, err := m.Enqueue(context.Background(), "step", map[string]string{"name": "first"}, Options{})
	require.NoError(t, err)
	_, err = m.Enqueue(context.Background(), "step", map[string]string{"name": "second"}, Options{})
	require.NoError(t, err)
	waitIdle(t, m)

	// The retry runs after whatever was already waiting.
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0])
	assert.ElementsMatch(t, []string{"first", "second"}, got[1:])
}

func TestMemoryWaitIdleReturnsOnCancellation(t *testing.T) {
	m := NewMemory("test")

	release := make(chan struct{})
	m.RegisterProcessor("slow", func(context.Context, Task) error {
		<-release
		return nil
	})
	_, err := m.Enqueue(context.Background(), "slow", nil, Options{})
	require.NoError(t, err)

	// WaitIdle only returns once its waiter goroutine has exited, so a
	// cancelled wait must come back while the task still blocks.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitIdle(ctx), context.DeadlineExceeded)

	close(release)
	waitIdle(t, m)
}

func TestMemoryDelayedEnqueue(t *testing.T) {
	m := NewMemory("test")

	done := make(chan struct{})
	m.RegisterProcessor("later", func(context.Context, Task) error {
		close(done)
		return nil
	})

	start := time.Now()
	_, err := m.Enqueue(context.Background(), "later", nil, Options{Delay: 50 * time.Millisecond})
	require.NoError(t, err)

	select {
	case <-done:
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
}

func TestMemoryUnknownTaskTypeCompletes(t *testing.T) {
	m := NewMemory("test")

	var completed int
	var mu sync.Mutex
	m.OnCompleted(func(Task) {
		mu.Lock()
		completed++
		mu.Unlock()
	})

	// No processor registered: the task drains without error.
	_, err := m.Enqueue(context.Background(), "nobody-home", nil, Options{})
	require.NoError(t, err)
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, completed)
}

func TestAutomationRoutesToQueues(t *testing.T) {
	orderQ := NewMemory("orders")
	emailQ := NewMemory("email")
	smsQ := NewMemory("sms")
	invQ := NewMemory("inventory")

	automation, err := NewAutomation(orderQ, emailQ, smsQ, invQ)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[string]Task{}
	record := func(_ context.Context, task Task) error {
		mu.Lock()
		seen[task.Type] = task
		mu.Unlock()
		return nil
	}
	automation.RegisterOrderProcessor(TaskNewOrder, record)
	automation.RegisterOrderProcessor(TaskOrderUpdate, record)
	automation.RegisterEmailProcessor(TaskWelcome, record)
	automation.RegisterSMSProcessor(TaskOTP, record)
	automation.RegisterInventoryProcessor(TaskLowStock, record)

	ctx := context.Background()
	require.NoError(t, automation.OnOrderCreated(ctx, "o1"))
	require.NoError(t, automation.OnOrderStatusUpdate(ctx, "o1", "confirmed"))
	require.NoError(t, automation.OnUserRegistered(ctx, "a@b.c", "Asha"))
	require.NoError(t, automation.SendOTP(ctx, "98000", "123456"))
	require.NoError(t, automation.OnLowStock(ctx, "p1", 2))

	for _, q := range []*Memory{orderQ, emailQ, smsQ, invQ} {
		waitIdle(t, q)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 5)
	// OTP delivery gets extra attempts
	assert.Equal(t, 5, seen[TaskOTP].MaxAttempts)
	assert.Equal(t, DefaultMaxAttempts, seen[TaskNewOrder].MaxAttempts)
}
