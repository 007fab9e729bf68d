package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/monitoring"
	gwerrors "github.com/ngoclaw/ngoclaw/gateway/pkg/errors"
	"github.com/ngoclaw/ngoclaw/gateway/pkg/safego"
	"go.uber.org/zap"
)

// DefaultQueueSweepInterval is how often the aging sweep runs.
const DefaultQueueSweepInterval = 5 * time.Second

// DefaultQueueTimeout is how long an item may wait in queue before it is
// rejected with QueueTimeout.
const DefaultQueueTimeout = 30 * time.Second

// Config configures one backend's process pool.
type Config struct {
	MaxConcurrent int
	MaxQueue      int
	QueueTimeout  time.Duration // default DefaultQueueTimeout
	SweepInterval time.Duration // default DefaultQueueSweepInterval
}

type job struct {
	req       *entity.ExecutionRequest
	ctx       context.Context
	queuedAt  time.Time
	resultCh  chan jobResult
}

type jobResult struct {
	res *entity.ExecutionResult
	err error
}

// Pool is a bounded-concurrency admission queue for one CLI backend, using
// the same mutex-guarded state-machine idiom as the circuit breaker: a FIFO
// queue + reentrancy-guarded dispatch loop
type Pool struct {
	name    string
	cfg     Config
	runner  service.BackendRunner
	logger  *zap.Logger

	mu            sync.Mutex
	active        int
	queue         *list.List // of *job
	shuttingDown  bool
	dispatching   bool

	processed   int64
	queuedTotal int64
	failed      int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ service.Pool = (*Pool)(nil)

// New creates a Pool bound to one backend and starts its queue-aging sweep.
func New(name string, cfg Config, runner service.BackendRunner, logger *zap.Logger) *Pool {
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = DefaultQueueTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultQueueSweepInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	p := &Pool{
		name:   name,
		cfg:    cfg,
		runner: runner,
		logger: logger.With(zap.String("component", "pool"), zap.String("backend", name)),
		queue:  list.New(),
		stopCh: make(chan struct{}),
	}

	safego.Go(p.logger, "pool-sweep-"+name, p.sweepLoop)

	return p
}

// Execute implements admission: reject if shutting down, run
// immediately under capacity, else enqueue bounded by MaxQueue, else reject
// with QueueFull.
func (p *Pool) Execute(ctx context.Context, req *entity.ExecutionRequest) (*entity.ExecutionResult, error) {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return nil, gwerrors.NewShutdown("pool is shutting down")
	}

	if p.active < p.cfg.MaxConcurrent {
		p.active++
		p.processed++
		p.mu.Unlock()
		return p.run(ctx, req)
	}

	if p.queue.Len() >= p.cfg.MaxQueue {
		p.mu.Unlock()
		monitoring.PoolFailedTotal.WithLabelValues(p.name).Inc()
		p.incFailed()
		return nil, gwerrors.NewQueueFull("pool queue is full")
	}

	j := &job{req: req, ctx: ctx, queuedAt: time.Now(), resultCh: make(chan jobResult, 1)}
	p.queue.PushBack(j)
	p.queuedTotal++
	monitoring.PoolQueuedTotal.WithLabelValues(p.name).Inc()
	monitoring.PoolQueued.WithLabelValues(p.name).Set(float64(p.queue.Len()))
	p.mu.Unlock()

	select {
	case r := <-j.resultCh:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run invokes the backend outside the lock and, on completion, decrements
// active and triggers the dispatch loop.
func (p *Pool) run(ctx context.Context, req *entity.ExecutionRequest) (*entity.ExecutionResult, error) {
	res, err := p.runner.Execute(ctx, req)

	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	monitoring.PoolProcessedTotal.WithLabelValues(p.name).Inc()
	p.dispatchNext()

	return res, err
}

// runQueued is like run but delivers its result over the job's channel
// instead of returning it directly, since the original caller is blocked
// on resultCh.
func (p *Pool) runQueued(j *job) {
	res, err := p.runner.Execute(j.ctx, j.req)

	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	monitoring.PoolProcessedTotal.WithLabelValues(p.name).Inc()
	j.resultCh <- jobResult{res: res, err: err}
	p.dispatchNext()
}

// dispatchNext is reentrancy-guarded: only one
// goroutine may be walking the queue at a time, so a cascade of finishing
// workers cannot collectively exceed MaxConcurrent.
func (p *Pool) dispatchNext() {
	p.mu.Lock()
	if p.dispatching {
		p.mu.Unlock()
		return
	}
	p.dispatching = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.dispatching = false
		p.mu.Unlock()
	}()

	for {
		p.mu.Lock()
		if p.active >= p.cfg.MaxConcurrent || p.queue.Len() == 0 {
			p.mu.Unlock()
			return
		}
		front := p.queue.Front()
		p.queue.Remove(front)
		monitoring.PoolQueued.WithLabelValues(p.name).Set(float64(p.queue.Len()))
		p.active++
		p.processed++
		p.mu.Unlock()

		j := front.Value.(*job)
		safego.Go(p.logger, "pool-dispatch-"+p.name, func() { p.runQueued(j) })
	}
}

// Stats returns a snapshot for GET /queue/status.
func (p *Pool) Stats() service.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return service.PoolStats{
		Active:         p.active,
		Queued:         p.queue.Len(),
		MaxConcurrent:  p.cfg.MaxConcurrent,
		MaxQueue:       p.cfg.MaxQueue,
		ProcessedTotal: p.processed,
		QueuedTotal:    p.queuedTotal,
		FailedTotal:    p.failed,
	}
}

// HasCapacity reports whether an immediate run or an enqueue would succeed
// right now — used by the Router's tool-capacity check.
func (p *Pool) HasCapacity() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active < p.cfg.MaxConcurrent || p.queue.Len() < p.cfg.MaxQueue
}

// Shutdown implements: mark shutting down, stop the sweep, reject
// every queued item with Shutdown, then wait up to timeout for active to
// reach zero.
func (p *Pool) Shutdown(ctx context.Context) (rejected int, timedOut bool) {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	p.shuttingDown = true
	for p.queue.Len() > 0 {
		front := p.queue.Front()
		p.queue.Remove(front)
		j := front.Value.(*job)
		j.resultCh <- jobResult{err: gwerrors.NewShutdown("pool is shutting down")}
		rejected++
		p.incFailedLocked()
	}
	monitoring.PoolFailedTotal.WithLabelValues(p.name).Add(float64(rejected))
	monitoring.PoolQueued.WithLabelValues(p.name).Set(0)
	p.mu.Unlock()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		active := p.active
		p.mu.Unlock()
		if active == 0 {
			return rejected, false
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return rejected, true
		}
	}
}

func (p *Pool) incFailed() {
	p.mu.Lock()
	p.incFailedLocked()
	p.mu.Unlock()
}

func (p *Pool) incFailedLocked() {
	p.failed++
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweepAged()
		case <-p.stopCh:
			return
		}
	}
}

// sweepAged removes queue items older than QueueTimeout, rejecting each with
// QueueTimeout and incrementing failed.
func (p *Pool) sweepAged() {
	now := time.Now()

	p.mu.Lock()
	var expired []*job
	for e := p.queue.Front(); e != nil; {
		next := e.Next()
		j := e.Value.(*job)
		if now.Sub(j.queuedAt) > p.cfg.QueueTimeout {
			p.queue.Remove(e)
			expired = append(expired, j)
			p.incFailedLocked()
		}
		e = next
	}
	monitoring.PoolQueued.WithLabelValues(p.name).Set(float64(p.queue.Len()))
	p.mu.Unlock()

	for _, j := range expired {
		j.resultCh <- jobResult{err: gwerrors.NewQueueTimeout("queued item timed out")}
	}
	if len(expired) > 0 {
		monitoring.PoolFailedTotal.WithLabelValues(p.name).Add(float64(len(expired)))
	}
}
