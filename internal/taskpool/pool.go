package taskpool

import (
	"context"
	"errors"
	"sync"
)

// ErrDuplicateTask is returned on the settlement channel when a task with the
// same identifier is already in flight. The caller decides whether to resubmit.
var ErrDuplicateTask = errors.New("taskpool: duplicate task in flight")

// DefaultCapacity is the number of tasks the pool runs concurrently unless
// configured otherwise.
const DefaultCapacity = 4

// Task is a unit of asynchronous work with a stable identifier.
type Task interface {
	ID() string
	Run(ctx context.Context) error
}

type taskEntry struct {
	ctx  context.Context
	task Task
	done chan error
}

func (e *taskEntry) settle(err error) {
	e.done <- err
	close(e.done)
}

// Pool executes tasks with bounded concurrency. Tasks wait in an ordered
// queue and are promoted into the processing set as capacity frees up. A task
// whose identifier matches one already processing is rejected with
// ErrDuplicateTask rather than run twice.
type Pool struct {
	mu         sync.Mutex
	capacity   int
	queued     []*taskEntry
	processing map[string]*taskEntry
}

func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		capacity:   capacity,
		processing: make(map[string]*taskEntry),
	}
}

// Submit enqueues a task and returns a channel that receives exactly one
// value when the task settles. The context is passed through to Task.Run.
func (p *Pool) Submit(ctx context.Context, task Task) <-chan error {
	entry := &taskEntry{
		ctx:  ctx,
		task: task,
		done: make(chan error, 1),
	}

	p.mu.Lock()
	p.queued = append(p.queued, entry)
	p.promote()
	p.mu.Unlock()

	return entry.done
}

// SetCapacity changes the concurrency ceiling. A raised ceiling takes effect
// on the next promotion cycle; a lowered one drains naturally as running
// tasks settle.
func (p *Pool) SetCapacity(capacity int) {
	if capacity <= 0 {
		return
	}

	p.mu.Lock()
	p.capacity = capacity
	p.promote()
	p.mu.Unlock()
}

func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// Processing returns the number of tasks currently running.
func (p *Pool) Processing() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processing)
}

// Queued returns the number of tasks waiting for promotion.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queued)
}

// promote moves queued entries into the processing set until capacity is
// reached. Duplicate identifiers are rejected here, not at submit time, so a
// queued task only conflicts with tasks actually running.
// Callers must hold p.mu.
func (p *Pool) promote() {
	for len(p.queued) > 0 && len(p.processing) < p.capacity {
		entry := p.queued[0]
		p.queued = p.queued[1:]

		id := entry.task.ID()
		if _, inFlight := p.processing[id]; inFlight {
			entry.settle(ErrDuplicateTask)
			continue
		}

		p.processing[id] = entry
		go p.run(id, entry)
	}
}

func (p *Pool) run(id string, entry *taskEntry) {
	err := entry.task.Run(entry.ctx)

	p.mu.Lock()
	delete(p.processing, id)
	p.promote()
	p.mu.Unlock()

	// One task's failure settles only its own channel; siblings are untouched.
	entry.settle(err)
}
