// Package worker implements a fixed-size pool of goroutines that execute
// queued tasks in submission order.
package worker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-downloader/internal/logging"
	"github.com/JakeFAU/page-downloader/internal/metrics"
	"github.com/JakeFAU/page-downloader/internal/queue/memory"
)

// DefaultWorkers is used as the CPU count when it cannot be determined.
const DefaultWorkers = 4

// ErrAlreadyStarted is returned by Start on a pool that has left the
// Uninitialized state.
var ErrAlreadyStarted = errors.New("worker pool already started")

// Task is a unit of work executed by exactly one worker.
type Task interface {
	Execute()
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func()

// Execute calls f.
func (f TaskFunc) Execute() { f() }

// State is the lifecycle phase of a Pool.
type State int

// Pool lifecycle states.
const (
	Uninitialized State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CPUCounter reports the number of hardware execution units.
type CPUCounter func() (int, error)

// Option customizes a Pool.
type Option func(*Pool)

// WithCPUCounter overrides how Start discovers the CPU count.
func WithCPUCounter(counter CPUCounter) Option {
	return func(p *Pool) {
		if counter != nil {
			p.cpus = counter
		}
	}
}

// Pool runs tasks from an unbounded FIFO on a fixed set of goroutines. The
// queue and the state are guarded by mu; idle workers wait on cond.
type Pool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue *memory.Queue[Task]
	state State
	size  int

	wg     sync.WaitGroup
	done   chan struct{}
	cpus   CPUCounter
	logger *zap.Logger
}

// New constructs an Uninitialized pool.
func New(logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		queue:  memory.NewQueue[Task](64),
		done:   make(chan struct{}),
		cpus:   logicalCPUs,
		logger: logger,
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns min(requested, CPU count) workers, at least one.
func (p *Pool) Start(requested int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Uninitialized {
		return ErrAlreadyStarted
	}
	n := p.clamp(requested)
	p.size = n
	p.state = Running
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.run(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("requested", requested),
		zap.Int("workers", n),
		zap.Int("queued", p.queue.Len()),
	)
	return nil
}

func (p *Pool) clamp(requested int) int {
	limit, err := p.cpus()
	if err != nil || limit <= 0 {
		p.logger.Warn("cpu count unavailable, using default",
			zap.Int("default", DefaultWorkers),
			zap.Error(err),
		)
		limit = DefaultWorkers
	}
	if requested > limit {
		requested = limit
	}
	if requested < 1 {
		requested = 1
	}
	return requested
}

// Submit enqueues task and wakes one idle worker. It returns false without
// enqueuing once Stop has been called. It never blocks on queue capacity.
func (p *Pool) Submit(task Task) bool {
	if task == nil {
		return false
	}
	p.mu.Lock()
	if p.state == Draining || p.state == Stopped {
		p.mu.Unlock()
		return false
	}
	p.queue.Push(task)
	metrics.SetQueuedTasks(p.queue.Len())
	p.mu.Unlock()

	p.cond.Signal()
	return true
}

// Stop rejects further submissions, waits for every queued task to finish and
// every worker to exit. Only the first call waits; later calls return at once.
func (p *Pool) Stop() {
	p.mu.Lock()
	switch p.state {
	case Draining, Stopped:
		p.mu.Unlock()
		return
	case Uninitialized:
		dropped := p.queue.Drain()
		p.state = Stopped
		metrics.SetQueuedTasks(0)
		p.mu.Unlock()
		close(p.done)
		if len(dropped) > 0 {
			p.logger.Warn("pool stopped before start, dropping queued tasks", zap.Int("dropped", len(dropped)))
		}
		return
	}
	p.state = Draining
	p.mu.Unlock()

	p.cond.Broadcast()
	p.logger.Info("worker pool draining")
	p.wg.Wait()

	p.mu.Lock()
	p.state = Stopped
	p.mu.Unlock()
	close(p.done)
	p.logger.Info("worker pool stopped")
}

// Done is closed once the pool reaches Stopped.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// State reports the current lifecycle phase.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Size reports the number of workers spawned by Start.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Pending reports the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

func (p *Pool) run(index int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", index))
	for {
		task, ok := p.next()
		if !ok {
			logging.Trace(logger, "worker exiting")
			return
		}
		p.execute(logger, task)
	}
}

// next blocks until a task is available or the pool is draining with an
// empty queue, in which case ok is false.
func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.queue.Len() == 0 && p.state == Running {
		p.cond.Wait()
	}
	task, ok := p.queue.Pop()
	if ok {
		metrics.SetQueuedTasks(p.queue.Len())
	}
	return task, ok
}

func (p *Pool) execute(logger *zap.Logger, task Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveTask("panic")
			logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task.Execute()
	metrics.ObserveTask("completed")
}

func logicalCPUs() (int, error) {
	n, err := cpu.Counts(true)
	if err != nil {
		return 0, fmt.Errorf("count cpus: %w", err)
	}
	return n, nil
}
