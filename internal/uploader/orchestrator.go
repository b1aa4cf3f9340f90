package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boxkite/boxkite/internal/taskpool"
	"github.com/boxkite/boxkite/internal/upsdk"
	"github.com/dustin/go-humanize"
)

var (
	ErrItemNotFound  = errors.New("upload item not found")
	ErrNotRetryable  = errors.New("upload item is not in a retryable state")
	ErrNotConflicted = errors.New("upload item is not in conflict")
)

const (
	DefaultConcurrency      = taskpool.DefaultCapacity
	DefaultMaxChunkAttempts = 3
	DefaultRefreshDebounce  = 500 * time.Millisecond

	sessionDeleteTimeout = 30 * time.Second
)

// SessionAPI is the slice of the upload SDK the orchestrator depends on.
// *upsdk.Client satisfies it.
type SessionAPI interface {
	CreateSession(ctx context.Context, params *upsdk.CreateSessionParams) (*upsdk.Session, error)
	DeleteSession(ctx context.Context, params *upsdk.DeleteSessionParams) error
	Transport(policy upsdk.StoragePolicy) upsdk.ChunkTransport
}

type Config struct {
	// Concurrency bounds how many session/chunk tasks run at once.
	Concurrency int

	// MaxChunkAttempts forces the file to error after this many consecutive
	// failures of a single chunk index.
	MaxChunkAttempts int

	// RefreshDebounce is the trailing-edge delay before the refresh
	// notification fires after a qualifying completion.
	RefreshDebounce time.Duration

	// GlobalOverwrite applies overwrite semantics to every item.
	GlobalOverwrite bool
}

func (c *Config) withDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxChunkAttempts <= 0 {
		c.MaxChunkAttempts = DefaultMaxChunkAttempts
	}
	if c.RefreshDebounce <= 0 {
		c.RefreshDebounce = DefaultRefreshDebounce
	}
}

// Resolution is a user-selected strategy for a conflicted item.
type Resolution string

const (
	ResolutionOverwrite Resolution = "overwrite"
	ResolutionRename    Resolution = "rename"
)

// AddRequest describes one file to enqueue.
type AddRequest struct {
	Name         string
	Source       Source
	RelPath      string // path fragment relative to the upload root
	TargetPath   string // logical destination directory
	Policy       upsdk.StoragePolicy
	Overwrite    bool
	NeedsRefresh bool
}

// Orchestrator owns the upload queue and drives each file's
// session-then-chunks pipeline end to end. One driver goroutine negotiates
// files one at a time; the chunk phase fans out through the shared pool.
type Orchestrator struct {
	api   SessionAPI
	pool  *taskpool.Pool
	queue *queue

	ctx  context.Context
	stop context.CancelFunc

	mu           sync.Mutex
	cfg          Config
	driving      bool
	refreshTimer *time.Timer

	nextID atomic.Int64
}

func New(api SessionAPI, cfg Config) *Orchestrator {
	cfg.withDefaults()
	ctx, stop := context.WithCancel(context.Background())

	return &Orchestrator{
		api:   api,
		pool:  taskpool.New(cfg.Concurrency),
		queue: newQueue(),
		ctx:   ctx,
		stop:  stop,
		cfg:   cfg,
	}
}

// Close cancels all in-flight work. Items are left in whatever state they
// reached; the engine holds no persistent state.
func (o *Orchestrator) Close() {
	o.stop()

	o.mu.Lock()
	if o.refreshTimer != nil {
		o.refreshTimer.Stop()
		o.refreshTimer = nil
	}
	o.mu.Unlock()
}

// Add enqueues files and wakes the driver. Returns how many items were
// actually added.
func (o *Orchestrator) Add(requests ...*AddRequest) int {
	added := 0
	for _, request := range requests {
		if request.Source == nil {
			continue
		}
		if request.RelPath == "" {
			request.RelPath = request.Name
		}
		if request.Name == "" {
			request.Name = request.RelPath
		}
		if request.Name == "" {
			continue
		}

		item := newItem(o.nextID.Add(1), request)
		o.queue.append(item)
		added++

		slog.Debug("upload queued", "id", item.ID, "key", item.Key(), "size", humanize.IBytes(uint64(item.Size)))
	}

	if added > 0 {
		o.kick()
	}
	return added
}

// Items returns a read-only snapshot of the queue in insertion order.
func (o *Orchestrator) Items() []ItemView {
	return o.queue.views()
}

func (o *Orchestrator) HasItems() bool {
	return o.queue.len() > 0
}

// Idle reports whether no item is pending or uploading.
func (o *Orchestrator) Idle() bool {
	idle := true
	o.queue.each(func(item *Item) {
		switch item.Status() {
		case StatusPending, StatusUploading:
			idle = false
		}
	})
	return idle
}

// Subscribe registers a queue observer. The cancel func releases it.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	return o.queue.subscribe()
}

// SetConcurrency changes the concurrency ceiling at runtime; it takes effect
// on the pool's next promotion cycle.
func (o *Orchestrator) SetConcurrency(n int) {
	if n <= 0 {
		return
	}
	o.mu.Lock()
	o.cfg.Concurrency = n
	o.mu.Unlock()
	o.pool.SetCapacity(n)
}

// Cancel marks an item canceled and aborts its in-flight work. The item stays
// in the queue; canceled is terminal and the driver never advances it again.
func (o *Orchestrator) Cancel(id int64) error {
	item := o.queue.byID(id)
	if item == nil {
		return ErrItemNotFound
	}

	item.abort()
	o.queue.updated(item)
	return nil
}

// Remove splices an item out of the queue. An uploading item is canceled
// first; if a remote session was opened, a best-effort delete is issued
// asynchronously and does not block removal.
func (o *Orchestrator) Remove(id int64) error {
	item := o.queue.byID(id)
	if item == nil {
		return ErrItemNotFound
	}

	item.abort()
	sessionID := item.SessionID()
	o.queue.remove(id)
	item.closeSource()

	if sessionID != "" {
		go o.deleteSession(sessionID, item.Key())
	}
	return nil
}

// Retry returns an error or conflict item to pending, clearing its error
// message and recomputing progress from the chunk ledger.
func (o *Orchestrator) Retry(id int64) error {
	item := o.queue.byID(id)
	if item == nil {
		return ErrItemNotFound
	}
	if !item.resetForRetry() {
		return ErrNotRetryable
	}

	o.queue.updated(item)
	o.kick()
	return nil
}

// RetryAllFailed sweeps every error item back to pending. Conflicted items
// are untouched; they require an explicit resolution.
func (o *Orchestrator) RetryAllFailed() int {
	count := 0
	o.queue.each(func(item *Item) {
		if item.Status() != StatusError {
			return
		}
		if item.resetForRetry() {
			count++
			o.queue.updated(item)
		}
	})

	if count > 0 {
		o.kick()
	}
	return count
}

// Resolve applies a conflict-resolution strategy to one conflicted item and
// returns it to pending.
func (o *Orchestrator) Resolve(id int64, resolution Resolution, newName string) error {
	item := o.queue.byID(id)
	if item == nil {
		return ErrItemNotFound
	}
	if item.Status() != StatusConflict {
		return ErrNotConflicted
	}

	switch resolution {
	case ResolutionOverwrite:
		item.Overwrite = true
	case ResolutionRename:
		if newName == "" {
			return fmt.Errorf("rename resolution requires a new name")
		}
		item.rename(newName)
	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}

	item.resetForRetry()
	o.queue.updated(item)
	o.kick()
	return nil
}

// SetGlobalOverwrite toggles queue-level overwrite semantics. Enabling it
// retries all currently-conflicted items in one sweep.
func (o *Orchestrator) SetGlobalOverwrite(on bool) int {
	o.mu.Lock()
	o.cfg.GlobalOverwrite = on
	o.mu.Unlock()

	if !on {
		return 0
	}

	count := 0
	o.queue.each(func(item *Item) {
		if item.Status() != StatusConflict {
			return
		}
		item.Overwrite = true
		if item.resetForRetry() {
			count++
			o.queue.updated(item)
		}
	})

	if count > 0 {
		o.kick()
	}
	return count
}

// ClearFinished removes all success and canceled items. Returns how many
// were cleared.
func (o *Orchestrator) ClearFinished() int {
	removed := o.queue.removeWhere(func(item *Item) bool {
		return item.Status().Terminal()
	})
	for _, item := range removed {
		item.closeSource()
	}
	return len(removed)
}

// kick starts the driver goroutine if it is not already running.
func (o *Orchestrator) kick() {
	o.mu.Lock()
	if o.driving {
		o.mu.Unlock()
		return
	}
	o.driving = true
	o.mu.Unlock()

	go o.drive()
}

// drive runs pending items to completion one at a time, earliest first. The
// chunk phase of each item fans out through the shared pool, so a single
// driver still saturates the configured concurrency.
func (o *Orchestrator) drive() {
	for {
		if o.ctx.Err() != nil {
			o.mu.Lock()
			o.driving = false
			o.mu.Unlock()
			return
		}

		item := o.queue.nextPending()
		if item == nil {
			o.mu.Lock()
			o.driving = false
			o.mu.Unlock()

			// an Add between nextPending and the flag clear must not strand
			// a pending item
			if o.queue.nextPending() != nil {
				o.kick()
			}
			return
		}

		o.process(item)
	}
}

// process runs one item's pipeline: negotiate a session, then transmit the
// remaining chunks, then settle.
func (o *Orchestrator) process(item *Item) {
	ctx, cancel := context.WithCancel(o.ctx)
	defer cancel()

	if !item.start(cancel) {
		// canceled or otherwise advanced while queued
		return
	}
	o.queue.updated(item)

	session, totalChunks := item.currentSession()
	if session == nil {
		task := &sessionTask{
			api: o.api,
			params: &upsdk.CreateSessionParams{
				Key:       item.Key(),
				Size:      item.Size,
				Policy:    item.Policy,
				Overwrite: o.effectiveOverwrite(item),
			},
		}

		if err := <-o.pool.Submit(ctx, task); err != nil {
			o.settleFailure(item, err, true)
			return
		}

		item.setSession(task.session)
		session, totalChunks = item.currentSession()
		o.publishUpdated(item)

		slog.Debug("upload session ready",
			"key", item.Key(),
			"sessionId", session.SessionID,
			"chunkSize", humanize.IBytes(uint64(session.ChunkSize)),
			"chunks", totalChunks,
		)
	}

	if err := o.transferChunks(ctx, item); err != nil {
		o.settleFailure(item, err, false)
		return
	}

	item.markSuccess()
	item.closeSource()
	o.publishUpdated(item)
	slog.Info("upload complete", "key", item.Key(), "size", humanize.IBytes(uint64(item.Size)))

	if item.NeedsRefresh {
		o.scheduleRefresh()
	}
}

// transferChunks submits the not-yet-confirmed chunk indices to the pool and
// resubmits failed indices until the ledger is complete, a chunk exhausts its
// attempts, or the item is canceled. Indices already confirmed are never
// resubmitted.
func (o *Orchestrator) transferChunks(ctx context.Context, item *Item) error {
	session, _ := item.currentSession()
	transport := o.api.Transport(item.Policy)

	o.mu.Lock()
	maxAttempts := o.cfg.MaxChunkAttempts
	o.mu.Unlock()

	type settlement struct {
		index int
		err   error
	}

	failures := make(map[int]int)
	failureErrs := make(map[int]error)
	remaining := item.remainingChunks()

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		results := make(chan settlement, len(remaining))
		for _, index := range remaining {
			task := &chunkTask{
				transport: transport,
				session:   session,
				source:    item.source,
				chunk:     item.chunkRange(index),
			}
			done := o.pool.Submit(ctx, task)
			go func(index int) {
				results <- settlement{index: index, err: <-done}
			}(index)
		}

		var next []int
		for range remaining {
			res := <-results
			switch {
			case res.err == nil:
				delete(failures, res.index)
				delete(failureErrs, res.index)
				item.markChunk(res.index)
				o.publishUpdated(item)
			case errors.Is(res.err, taskpool.ErrDuplicateTask):
				// expected during steady-state resubmission; not a failure
				next = append(next, res.index)
			case errors.Is(res.err, context.Canceled):
				next = append(next, res.index)
			default:
				failures[res.index]++
				failureErrs[res.index] = res.err
				next = append(next, res.index)
				slog.Warn("upload chunk retry",
					"key", item.Key(),
					"chunk", res.index,
					"attempt", failures[res.index],
					"error", res.err,
				)
			}
		}

		for index, count := range failures {
			if count >= maxAttempts {
				return fmt.Errorf("chunk %d failed %d times: %w", index, count, failureErrs[index])
			}
		}

		sort.Ints(next)
		remaining = next
	}

	return nil
}

// settleFailure routes a pipeline error to the item's final state for this
// attempt: canceled stays silent, negotiation conflicts go to conflict,
// everything else to error.
func (o *Orchestrator) settleFailure(item *Item, err error, fromNegotiation bool) {
	switch {
	case item.canceled() || errors.Is(err, context.Canceled):
		item.abort()
		slog.Info("upload canceled", "key", item.Key())
	case fromNegotiation && upsdk.IsConflict(err):
		item.markConflict(err)
		slog.Warn("upload conflict", "key", item.Key())
	default:
		item.markError(err)
		slog.Error("upload failed", "key", item.Key(), "error", err)
	}
	o.publishUpdated(item)
}

// publishUpdated emits an item update unless the item has already been
// spliced out of the queue; observers never see updates after the removed
// event.
func (o *Orchestrator) publishUpdated(item *Item) {
	if o.queue.byID(item.ID) != nil {
		o.queue.updated(item)
	}
}

func (o *Orchestrator) effectiveOverwrite(item *Item) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return item.Overwrite || o.cfg.GlobalOverwrite
}

// scheduleRefresh arms the trailing-edge debounce for the queue-finished
// notification; every qualifying completion resets it so a burst of small
// files produces one refresh.
func (o *Orchestrator) scheduleRefresh() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.refreshTimer != nil {
		o.refreshTimer.Stop()
	}
	o.refreshTimer = time.AfterFunc(o.cfg.RefreshDebounce, func() {
		o.queue.publish(Event{Type: EventRefresh})
	})
}

func (o *Orchestrator) deleteSession(sessionID, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionDeleteTimeout)
	defer cancel()

	if err := o.api.DeleteSession(ctx, &upsdk.DeleteSessionParams{SessionID: sessionID, Key: key}); err != nil {
		// best-effort; local removal already happened
		slog.Warn("upload session delete", "sessionId", sessionID, "key", key, "error", err)
	}
}
