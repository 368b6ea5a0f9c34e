package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/personachat/broker/internal/metrics"
	"github.com/personachat/broker/internal/models"
	"github.com/personachat/broker/internal/tokens"
)

// stubEngine is an instrumented Engine that records concurrency and call
// counts. fn, when set, scripts the outcome per call (1-based).
type stubEngine struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	lastPrompt  []models.Message

	delay time.Duration
	reply string
	fn    func(call int) (string, error)
}

func (s *stubEngine) Generate(_ context.Context, messages []models.Message) (string, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.lastPrompt = messages
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if s.fn != nil {
		return s.fn(call)
	}
	return s.reply, nil
}

func (s *stubEngine) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubEngine) maxObserved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func newTestWorker(t *testing.T, q *Queue, eng Engine, maxTokens int) *Worker {
	t.Helper()
	collector := metrics.NewCollector(prometheus.NewRegistry())
	return NewWorker(q, eng, WorkerConfig{MaxContextTokens: maxTokens, Permits: 1}, collector, zap.NewNop())
}

func runWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWorker_ResolvesTask(t *testing.T) {
	q := NewQueue(5)
	eng := &stubEngine{reply: "hi there"}
	runWorker(t, newTestWorker(t, q, eng, 1024))

	task := userTask("hello")
	require.True(t, q.TryEnqueue(task))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	text, err := task.Handle.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
}

func TestWorker_SingleGenerationInFlight(t *testing.T) {
	q := NewQueue(8)
	eng := &stubEngine{reply: "ok", delay: 20 * time.Millisecond}
	runWorker(t, newTestWorker(t, q, eng, 1024))

	tasks := make([]*Task, 6)
	for i := range tasks {
		tasks[i] = userTask("load")
		require.True(t, q.TryEnqueue(tasks[i]))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, task := range tasks {
		_, err := task.Handle.Await(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, eng.maxObserved(), "generations must never overlap")
	assert.Equal(t, 6, eng.callCount())
}

func TestWorker_SkipsCancelledTask(t *testing.T) {
	q := NewQueue(5)
	eng := &stubEngine{reply: "ok"}

	cancelled := userTask("gone")
	cancelled.Handle.Cancel()
	require.True(t, q.TryEnqueue(cancelled))

	live := userTask("still here")
	require.True(t, q.TryEnqueue(live))

	runWorker(t, newTestWorker(t, q, eng, 1024))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	text, err := live.Handle.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)

	assert.Equal(t, 1, eng.callCount(), "cancelled task must not reach the engine")
}

func TestWorker_FailureIsIsolatedPerTask(t *testing.T) {
	q := NewQueue(5)
	errMalformed := errors.New("unexpected response from model")
	eng := &stubEngine{fn: func(call int) (string, error) {
		if call == 1 {
			return "", errMalformed
		}
		return "second ok", nil
	}}
	runWorker(t, newTestWorker(t, q, eng, 1024))

	bad := userTask("bad")
	good := userTask("good")
	require.True(t, q.TryEnqueue(bad))
	require.True(t, q.TryEnqueue(good))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := bad.Handle.Await(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error during message generation")
	assert.Contains(t, err.Error(), "unexpected response from model")

	text, err := good.Handle.Await(ctx)
	require.NoError(t, err, "the loop must keep going after a failed task")
	assert.Equal(t, "second ok", text)
}

func TestWorker_LateResultAfterCallerTimeout(t *testing.T) {
	q := NewQueue(5)
	eng := &stubEngine{reply: "slow answer", delay: 100 * time.Millisecond}
	runWorker(t, newTestWorker(t, q, eng, 1024))

	task := userTask("hurry")
	require.True(t, q.TryEnqueue(task))

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := task.Handle.Await(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 90*time.Millisecond, "caller must not wait for the engine")

	// The engine finishes anyway; its result must change nothing.
	time.Sleep(150 * time.Millisecond)
	text, err := task.Handle.Await(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, text)
	assert.Equal(t, 1, eng.callCount(), "wasted generation is accepted, retry is not")
}

func TestWorker_TruncatesBeforeGenerating(t *testing.T) {
	q := NewQueue(5)
	eng := &stubEngine{reply: "ok"}
	runWorker(t, newTestWorker(t, q, eng, 150))

	oversized := []models.Message{
		{Role: models.RoleUser, Content: strings.Repeat("0", 2000)},
		{Role: models.RoleSystem, Content: strings.Repeat("1", 2000)},
		{Role: models.RoleUser, Content: strings.Repeat("2", 2000)},
		{Role: models.RoleUser, Content: strings.Repeat("3", 2000)},
	}
	task := NewTask(oversized)
	require.True(t, q.TryEnqueue(task))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := task.Handle.Await(ctx)
	require.NoError(t, err)

	eng.mu.Lock()
	prompt := eng.lastPrompt
	eng.mu.Unlock()

	require.Len(t, prompt, 2, "worker must re-apply the budget before the engine sees the prompt")
	for _, m := range prompt {
		assert.LessOrEqual(t, len(m.Content), tokens.MaxMessageChars)
	}
}
