// Package pool runs match resolutions on a fixed set of workers fed by a FIFO
// queue. A worker that panics is replaced and the queue keeps draining.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/filters"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/person"
	apperrors "github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/metrics"
)

// maxTaskAttempts bounds how often a task is handed to a fresh worker after
// the worker running it crashed.
const maxTaskAttempts = 2

type Config struct {
	// Workers <= 0 means one less than the number of CPUs, at least one.
	Workers int
}

func DefaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}

// Outcome is the single resolution of a task.
type Outcome struct {
	Result *matcher.Result
	Err    error
}

type task struct {
	ctx      context.Context
	person   *person.Person
	req      matcher.Request
	attempts int
	release  func()
	once     sync.Once
	done     chan Outcome
}

func (t *task) resolve(o Outcome) {
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
		t.done <- o
		close(t.done)
	})
}

type workerState int

const (
	stateIdle workerState = iota
	stateBusy
	stateCrashed
	stateReplacing
)

func (s workerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateBusy:
		return "busy"
	case stateCrashed:
		return "crashed"
	case stateReplacing:
		return "replacing"
	default:
		return "unknown"
	}
}

type worker struct {
	id    int
	state workerState
	tasks chan *task
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Running   bool   `json:"running"`
	Workers   int    `json:"workers"`
	Idle      int    `json:"idle"`
	Busy      int    `json:"busy"`
	Queued    int    `json:"queued"`
	Crashes   uint64 `json:"crashes"`
	Completed uint64 `json:"completed"`
}

type Pool struct {
	matcher matcher.Matcher
	size    int
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	workers   map[int]*worker
	idle      []*worker
	queue     []*task
	nextID    int
	crashes   uint64
	completed uint64
	wg        sync.WaitGroup
}

type Option func(*Pool)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

func New(m matcher.Matcher, cfg Config, opts ...Option) *Pool {
	size := cfg.Workers
	if size <= 0 {
		size = DefaultWorkers()
	}
	p := &Pool{
		matcher: m,
		size:    size,
		logger:  slog.Default().With("component", "match-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize starts the workers. Calling it on a running pool does nothing.
func (p *Pool) Initialize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.workers = make(map[int]*worker, p.size)
	p.idle = make([]*worker, 0, p.size)
	p.queue = nil
	for i := 0; i < p.size; i++ {
		p.spawnLocked()
	}
	p.running = true
	p.publishLocked()
	p.logger.Info("match pool started", "workers", p.size)
}

// Submit enqueues a match for p and returns the channel its single Outcome is
// delivered on. ctx values reach the resolver but its cancellation does not.
func (p *Pool) Submit(ctx context.Context, pr *person.Person, req matcher.Request) <-chan Outcome {
	t := &task{
		person: pr,
		req:    req,
		done:   make(chan Outcome, 1),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		t.resolve(Outcome{Err: apperrors.ErrPoolClosed})
		return t.done
	}
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(p.ctx, cancel)
	t.ctx = taskCtx
	t.release = func() {
		stop()
		cancel()
	}

	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.assignLocked(w, t)
	} else {
		p.queue = append(p.queue, t)
	}
	p.publishLocked()
	return t.done
}

// RunMatching runs a match and waits for its outcome. When ctx ends first the
// caller gets ErrTimeout; the task still runs and its result is discarded.
func (p *Pool) RunMatching(ctx context.Context, pr *person.Person, params *matcher.ActivityContext, customFilters *filters.PersonFilters, initialTokens []string) (*matcher.Result, error) {
	ch := p.Submit(ctx, pr, matcher.Request{
		Activity:      params,
		Filters:       customFilters,
		InitialTokens: initialTokens,
	})
	select {
	case o := <-ch:
		return o.Result, o.Err
	case <-ctx.Done():
		p.countOutcome("timeout")
		return nil, fmt.Errorf("%w: waiting for match: %v", apperrors.ErrTimeout, ctx.Err())
	}
}

// Shutdown stops every worker, rejects queued tasks with ErrPoolClosed and
// waits for in-flight tasks to return. Initialize may be called again after.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	for _, t := range p.queue {
		t.resolve(Outcome{Err: apperrors.ErrPoolClosed})
	}
	p.queue = nil
	for _, w := range p.workers {
		close(w.tasks)
	}
	p.workers = nil
	p.idle = nil
	p.publishLocked()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("match pool stopped")
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Running:   p.running,
		Workers:   len(p.workers),
		Idle:      len(p.idle),
		Busy:      len(p.workers) - len(p.idle),
		Queued:    len(p.queue),
		Crashes:   p.crashes,
		Completed: p.completed,
	}
}

func (p *Pool) spawnLocked() *worker {
	p.nextID++
	w := &worker{
		id:    p.nextID,
		state: stateIdle,
		tasks: make(chan *task, 1),
	}
	p.workers[w.id] = w
	p.idle = append(p.idle, w)
	p.wg.Add(1)
	go p.run(w)
	return w
}

func (p *Pool) assignLocked(w *worker, t *task) {
	w.state = stateBusy
	t.attempts++
	w.tasks <- t
}

func (p *Pool) run(w *worker) {
	defer p.wg.Done()
	for t := range w.tasks {
		if panicked, value := p.execute(w, t); panicked {
			p.replace(w, t, value)
			return
		}
		p.release(w)
	}
}

// execute runs one task. A panic leaves the task unresolved for replace.
func (p *Pool) execute(w *worker, t *task) (panicked bool, value any) {
	defer func() {
		if r := recover(); r != nil {
			panicked, value = true, r
			logger.FromContext(t.ctx).Error("match worker crashed",
				"component", "match-pool",
				"worker", w.id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	res, err := p.matcher.GetMatches(t.ctx, t.person, t.req)
	t.resolve(Outcome{Result: res, Err: err})
	return false, nil
}

// release returns w to the idle set or hands it the next queued task.
func (p *Pool) release(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	if !p.running {
		return
	}
	p.nextLocked(w)
	p.publishLocked()
}

func (p *Pool) nextLocked(w *worker) {
	if len(p.queue) > 0 {
		t := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.assignLocked(w, t)
		return
	}
	w.state = stateIdle
	p.idle = append(p.idle, w)
}

// replace retires a crashed worker, requeues or rejects its task, and starts
// a replacement that immediately drains the queue.
func (p *Pool) replace(w *worker, t *task, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.state = stateCrashed
	p.crashes++
	if p.metrics != nil {
		p.metrics.PoolWorkerCrashes.Inc()
	}
	p.countOutcome("crashed")

	if !p.running {
		t.resolve(Outcome{Err: apperrors.ErrPoolClosed})
		return
	}
	delete(p.workers, w.id)
	if t.attempts >= maxTaskAttempts {
		t.resolve(Outcome{Err: fmt.Errorf("%w: %v", apperrors.ErrWorkerCrashed, value)})
	} else {
		p.queue = append([]*task{t}, p.queue...)
	}

	p.nextID++
	nw := &worker{
		id:    p.nextID,
		state: stateReplacing,
		tasks: make(chan *task, 1),
	}
	p.workers[nw.id] = nw
	p.wg.Add(1)
	go p.run(nw)
	p.logger.Warn("match worker replaced", "crashed", w.id, "replacement", nw.id, "queued", len(p.queue))
	p.nextLocked(nw)
	p.publishLocked()
}

func (p *Pool) publishLocked() {
	if p.metrics == nil {
		return
	}
	p.metrics.PoolWorkers.Set(float64(len(p.workers)))
	p.metrics.PoolBusyWorkers.Set(float64(len(p.workers) - len(p.idle)))
	p.metrics.PoolQueueDepth.Set(float64(len(p.queue)))
}

func (p *Pool) countOutcome(outcome string) {
	if p.metrics != nil {
		p.metrics.MatchRequestsTotal.WithLabelValues(outcome).Inc()
	}
}
