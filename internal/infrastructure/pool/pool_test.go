package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	gwerrors "github.com/ngoclaw/ngoclaw/gateway/pkg/errors"
	"go.uber.org/zap"
)

type slowRunner struct {
	delay time.Duration
	mu    sync.Mutex
	calls []time.Time
}

func (r *slowRunner) Name() string            { return "fake" }
func (r *slowRunner) Kind() entity.BackendKind { return entity.BackendCLI }
func (r *slowRunner) IsAvailable(ctx context.Context) bool { return true }
func (r *slowRunner) Execute(ctx context.Context, req *entity.ExecutionRequest) (*entity.ExecutionResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, time.Now())
	r.mu.Unlock()
	time.Sleep(r.delay)
	return &entity.ExecutionResult{OK: true, OutputText: "done"}, nil
}

type blockingRunner struct {
	unblock chan struct{}
}

func (r *blockingRunner) Name() string            { return "hang" }
func (r *blockingRunner) Kind() entity.BackendKind { return entity.BackendCLI }
func (r *blockingRunner) IsAvailable(ctx context.Context) bool { return true }
func (r *blockingRunner) Execute(ctx context.Context, req *entity.ExecutionRequest) (*entity.ExecutionResult, error) {
	<-r.unblock
	return &entity.ExecutionResult{OK: true}, nil
}

func TestPool_BackPressureScenario(t *testing.T) {
	runner := &slowRunner{delay: 50 * time.Millisecond}
	p := New("backend", Config{MaxConcurrent: 1, MaxQueue: 2}, runner, zap.NewNop())
	defer p.Shutdown(context.Background())

	type outcome struct {
		err error
	}
	results := make(chan outcome, 4)

	for i := 0; i < 4; i++ {
		go func() {
			_, err := p.Execute(context.Background(), &entity.ExecutionRequest{Query: "x"})
			results <- outcome{err: err}
		}()
		time.Sleep(2 * time.Millisecond)
	}

	var queueFullCount, successCount int
	for i := 0; i < 4; i++ {
		o := <-results
		if o.err == nil {
			successCount++
		} else if gwerrors.Code(o.err) == gwerrors.CodeQueueFull {
			queueFullCount++
		} else {
			t.Fatalf("unexpected error: %v", o.err)
		}
	}

	if successCount != 3 {
		t.Fatalf("expected 3 successful completions, got %d", successCount)
	}
	if queueFullCount != 1 {
		t.Fatalf("expected 1 QueueFull rejection, got %d", queueFullCount)
	}
}

func TestPool_BoundHoldsUnderConcurrency(t *testing.T) {
	runner := &slowRunner{delay: 5 * time.Millisecond}
	p := New("backend", Config{MaxConcurrent: 2, MaxQueue: 50}, runner, zap.NewNop())
	defer p.Shutdown(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Execute(context.Background(), &entity.ExecutionRequest{Query: "x"})
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			stats := p.Stats()
			if stats.Active > 2 {
				t.Fatalf("pool bound violated: active=%d > max=2", stats.Active)
			}
			if stats.Queued > 50 {
				t.Fatalf("queue bound violated: queued=%d > max=50", stats.Queued)
			}
		}
	}
}

func TestPool_QueueAgingRejectsWithTimeout(t *testing.T) {
	runner := &blockingRunner{unblock: make(chan struct{})}
	p := New("backend", Config{MaxConcurrent: 1, MaxQueue: 10, QueueTimeout: 20 * time.Millisecond, SweepInterval: 5 * time.Millisecond}, runner, zap.NewNop())
	defer func() {
		close(runner.unblock)
		p.Shutdown(context.Background())
	}()

	go p.Execute(context.Background(), &entity.ExecutionRequest{Query: "occupies slot"})
	time.Sleep(5 * time.Millisecond)

	_, err := p.Execute(context.Background(), &entity.ExecutionRequest{Query: "ages out"})
	if err == nil || gwerrors.Code(err) != gwerrors.CodeQueueTimeout {
		t.Fatalf("expected QueueTimeout, got %v", err)
	}

	stats := p.Stats()
	if stats.FailedTotal != 1 {
		t.Fatalf("expected failed_total=1, got %d", stats.FailedTotal)
	}
}

func TestPool_RejectsAfterShutdown(t *testing.T) {
	runner := &slowRunner{delay: time.Millisecond}
	p := New("backend", Config{MaxConcurrent: 1, MaxQueue: 1}, runner, zap.NewNop())
	p.Shutdown(context.Background())

	_, err := p.Execute(context.Background(), &entity.ExecutionRequest{Query: "x"})
	if err == nil || gwerrors.Code(err) != gwerrors.CodeShutdown {
		t.Fatalf("expected Shutdown error, got %v", err)
	}
}

func TestPool_ShutdownRejectsQueuedItems(t *testing.T) {
	runner := &blockingRunner{unblock: make(chan struct{})}
	p := New("backend", Config{MaxConcurrent: 1, MaxQueue: 5}, runner, zap.NewNop())

	go p.Execute(context.Background(), &entity.ExecutionRequest{Query: "occupies slot"})
	time.Sleep(5 * time.Millisecond)

	queuedErrCh := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), &entity.ExecutionRequest{Query: "queued"})
		queuedErrCh <- err
	}()
	time.Sleep(5 * time.Millisecond)

	close(runner.unblock)
	rejected, timedOut := p.Shutdown(context.Background())
	if rejected != 1 {
		t.Fatalf("expected 1 rejected, got %d", rejected)
	}
	if timedOut {
		t.Fatal("did not expect shutdown to time out")
	}

	err := <-queuedErrCh
	if err == nil || gwerrors.Code(err) != gwerrors.CodeShutdown {
		t.Fatalf("expected queued item to reject with Shutdown, got %v", err)
	}
}
