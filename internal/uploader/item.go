package uploader

import (
	"context"
	"math"
	"path"
	"sync"

	"github.com/boxkite/boxkite/internal/upsdk"
	mapset "github.com/deckarep/golang-set/v2"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusConflict  Status = "conflict"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether the status can never advance again. Error and
// conflict are not terminal: both allow an explicit retry.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusCanceled
}

// Item is one pending/active/finished transfer: a local byte source plus its
// session and chunk state. The orchestrator is the sole writer; observers see
// it through ItemView snapshots.
type Item struct {
	ID           int64
	Name         string
	Size         int64
	RelPath      string
	TargetPath   string
	Policy       upsdk.StoragePolicy
	Overwrite    bool
	NeedsRefresh bool

	source Source

	mu          sync.Mutex
	status      Status
	progress    int
	errMsg      string
	session     *upsdk.Session
	totalChunks int
	uploaded    mapset.Set[int]
	cancel      context.CancelFunc
}

// ItemView is a read-only snapshot of an Item for observers.
type ItemView struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	RelPath    string `json:"relPath"`
	TargetPath string `json:"targetPath"`
	Status     Status `json:"status"`
	Progress   int    `json:"progress"`
	Error      string `json:"error,omitempty"`
}

func newItem(id int64, req *AddRequest) *Item {
	return &Item{
		ID:           id,
		Name:         req.Name,
		Size:         req.Source.Size(),
		RelPath:      req.RelPath,
		TargetPath:   req.TargetPath,
		Policy:       req.Policy,
		Overwrite:    req.Overwrite,
		NeedsRefresh: req.NeedsRefresh,
		source:       req.Source,
		status:       StatusPending,
		uploaded:     mapset.NewSet[int](),
	}
}

// Key is the logical destination URI for this item.
func (it *Item) Key() string {
	return path.Join(it.TargetPath, it.RelPath)
}

func (it *Item) Status() Status {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.status
}

func (it *Item) Progress() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.progress
}

func (it *Item) Err() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.errMsg
}

func (it *Item) View() ItemView {
	it.mu.Lock()
	defer it.mu.Unlock()
	return ItemView{
		ID:         it.ID,
		Name:       it.Name,
		Size:       it.Size,
		RelPath:    it.RelPath,
		TargetPath: it.TargetPath,
		Status:     it.status,
		Progress:   it.progress,
		Error:      it.errMsg,
	}
}

// SessionID returns the negotiated session identifier, or "" before
// negotiation.
func (it *Item) SessionID() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.session == nil {
		return ""
	}
	return it.session.SessionID
}

// setSession records the negotiated session. SessionID, chunk size and total
// chunk count are populated together; they are never partially set.
func (it *Item) setSession(session *upsdk.Session) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.session = session
	it.totalChunks = int(divideAndCeil(it.Size, session.ChunkSize))
}

// clearSession drops the session and the chunk ledger. Used when the
// destination key changes (rename), which invalidates both.
func (it *Item) clearSession() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.session = nil
	it.totalChunks = 0
	it.uploaded = mapset.NewSet[int]()
	it.progress = 0
}

func (it *Item) currentSession() (*upsdk.Session, int) {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.session, it.totalChunks
}

// chunkRange computes the byte range for a chunk index. The final chunk may
// be shorter than the negotiated chunk size.
func (it *Item) chunkRange(index int) upsdk.ChunkRange {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.chunkRangeLocked(index)
}

func (it *Item) chunkRangeLocked(index int) upsdk.ChunkRange {
	offset := int64(index) * it.session.ChunkSize
	length := it.session.ChunkSize
	if remaining := it.Size - offset; remaining < length {
		length = remaining
	}
	return upsdk.ChunkRange{
		Index:  index,
		Offset: offset,
		Length: length,
		Total:  it.Size,
	}
}

// markChunk records a confirmed chunk and recomputes byte-weighted progress.
// Chunks are only ever added, so progress is monotonically non-decreasing
// while uploading.
func (it *Item) markChunk(index int) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.uploaded.Add(index)
	it.progress = it.progressLocked()
}

// remainingChunks lists the chunk indices not yet confirmed, in order. An
// index already in the ledger is never resubmitted; this is what makes
// resuming after a partial failure cheap.
func (it *Item) remainingChunks() []int {
	it.mu.Lock()
	defer it.mu.Unlock()

	indices := make([]int, 0, it.totalChunks)
	for i := 0; i < it.totalChunks; i++ {
		if !it.uploaded.Contains(i) {
			indices = append(indices, i)
		}
	}
	return indices
}

// confirmedBytes sums the byte lengths of all confirmed chunks.
func (it *Item) confirmedBytes() int64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.confirmedBytesLocked()
}

func (it *Item) confirmedBytesLocked() int64 {
	if it.session == nil {
		return 0
	}

	var total int64
	for _, index := range it.uploaded.ToSlice() {
		total += it.chunkRangeLocked(index).Length
	}
	return total
}

// progressLocked computes byte-weighted progress so uneven final chunks do
// not skew the percentage.
func (it *Item) progressLocked() int {
	if it.Size == 0 {
		if it.status == StatusSuccess || (it.session != nil && it.uploaded.Cardinality() >= it.totalChunks) {
			return 100
		}
		return 0
	}
	return int(math.Round(float64(it.confirmedBytesLocked()) / float64(it.Size) * 100))
}

// start transitions pending -> uploading and arms the cancel handle.
func (it *Item) start(cancel context.CancelFunc) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.status != StatusPending {
		return false
	}
	it.status = StatusUploading
	it.errMsg = ""
	it.cancel = cancel
	return true
}

// markSuccess completes the item. A cancel that raced the final chunk wins:
// canceled is terminal and is never overwritten.
func (it *Item) markSuccess() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.status == StatusCanceled {
		return
	}
	it.status = StatusSuccess
	it.progress = 100
	it.errMsg = ""
	it.cancel = nil
}

func (it *Item) markError(err error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.status == StatusCanceled {
		return
	}
	it.status = StatusError
	it.errMsg = err.Error()
	it.cancel = nil
}

func (it *Item) markConflict(err error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.status == StatusCanceled {
		return
	}
	it.status = StatusConflict
	it.errMsg = err.Error()
	it.cancel = nil
}

// abort signals cancellation. Canceled is terminal: the driver loop never
// advances a canceled item again, and no error message is recorded.
func (it *Item) abort() {
	it.mu.Lock()
	cancel := it.cancel
	it.cancel = nil
	if it.status == StatusPending || it.status == StatusUploading {
		it.status = StatusCanceled
		it.errMsg = ""
	}
	it.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (it *Item) canceled() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.status == StatusCanceled
}

// resetForRetry transitions error/conflict back to pending. Progress is reset
// to the byte-weighted value implied by the still-valid chunk ledger, not to
// zero, preserving resumability.
func (it *Item) resetForRetry() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.status != StatusError && it.status != StatusConflict {
		return false
	}
	it.status = StatusPending
	it.errMsg = ""
	it.progress = it.progressLocked()
	return true
}

// rename updates the display name and recomputes the relative path,
// preserving the original directory prefix.
func (it *Item) rename(newName string) {
	it.mu.Lock()
	it.Name = newName
	dir := path.Dir(it.RelPath)
	if dir == "." {
		it.RelPath = newName
	} else {
		it.RelPath = path.Join(dir, newName)
	}
	it.mu.Unlock()

	// the destination key changed; the old session no longer applies
	it.clearSession()
}

func (it *Item) closeSource() {
	if closer, ok := it.source.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

func divideAndCeil(numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	quotient := numerator / denominator
	if numerator%denominator != 0 {
		quotient++
	}
	return quotient
}
