package uploader

import (
	"errors"
	"testing"

	"github.com/boxkite/boxkite/internal/upsdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestItem(t *testing.T, size int64) *Item {
	t.Helper()
	data := make([]byte, size)
	return newItem(1, &AddRequest{
		Name:       "report.pdf",
		Source:     NewBytesSource(data),
		RelPath:    "report.pdf",
		TargetPath: "/docs",
	})
}

func TestItemKeyJoinsTargetAndRelPath(t *testing.T) {
	item := newItem(1, &AddRequest{
		Name:       "report.pdf",
		Source:     NewBytesSource([]byte("x")),
		RelPath:    "2024/report.pdf",
		TargetPath: "/docs",
	})
	assert.Equal(t, "/docs/2024/report.pdf", item.Key())
}

func TestItemChunkMath(t *testing.T) {
	// 10 MB at 3 MB per chunk: four chunks, the last a short 1 MB
	const mb = int64(1024 * 1024)
	item := newTestItem(t, 10*mb)
	item.setSession(&upsdk.Session{SessionID: "s1", ChunkSize: 3 * mb})

	_, total := item.currentSession()
	require.Equal(t, 4, total)

	last := item.chunkRange(3)
	assert.Equal(t, 9*mb, last.Offset)
	assert.Equal(t, 1*mb, last.Length)
	assert.Equal(t, 10*mb, last.Total)

	first := item.chunkRange(0)
	assert.Equal(t, int64(0), first.Offset)
	assert.Equal(t, 3*mb, first.Length)
}

func TestItemProgressIsByteWeighted(t *testing.T) {
	const mb = int64(1024 * 1024)
	item := newTestItem(t, 10*mb)
	item.setSession(&upsdk.Session{SessionID: "s1", ChunkSize: 3 * mb})

	// three full chunks confirmed out of four: 9 of 10 MB, not 3 of 4 chunks
	item.markChunk(0)
	item.markChunk(1)
	item.markChunk(2)
	assert.Equal(t, 90, item.Progress())

	// the short final chunk closes the remaining 10 percent
	item.markChunk(3)
	assert.Equal(t, 100, item.Progress())
}

func TestItemRemainingChunksSkipsLedger(t *testing.T) {
	item := newTestItem(t, 9)
	item.setSession(&upsdk.Session{SessionID: "s1", ChunkSize: 3})

	assert.Equal(t, []int{0, 1, 2}, item.remainingChunks())

	item.markChunk(1)
	assert.Equal(t, []int{0, 2}, item.remainingChunks())

	item.markChunk(0)
	item.markChunk(2)
	assert.Empty(t, item.remainingChunks())
}

func TestItemResetForRetryKeepsLedger(t *testing.T) {
	item := newTestItem(t, 9)
	item.setSession(&upsdk.Session{SessionID: "s1", ChunkSize: 3})
	item.markChunk(0)
	item.markChunk(1)

	item.markError(errors.New("chunk 2 failed"))
	assert.Equal(t, StatusError, item.Status())
	assert.NotEmpty(t, item.Err())

	require.True(t, item.resetForRetry())
	assert.Equal(t, StatusPending, item.Status())
	assert.Empty(t, item.Err())
	assert.Equal(t, 67, item.Progress())
	assert.Equal(t, []int{2}, item.remainingChunks())
}

func TestItemResetForRetryRejectsOtherStates(t *testing.T) {
	item := newTestItem(t, 4)
	assert.False(t, item.resetForRetry(), "pending is not retryable")

	item.markSuccess()
	assert.False(t, item.resetForRetry(), "success is terminal")
}

func TestItemRenamePreservesDirAndDropsSession(t *testing.T) {
	item := newItem(1, &AddRequest{
		Name:       "report.pdf",
		Source:     NewBytesSource([]byte("abcdef")),
		RelPath:    "2024/q3/report.pdf",
		TargetPath: "/docs",
	})
	item.setSession(&upsdk.Session{SessionID: "s1", ChunkSize: 2})
	item.markChunk(0)

	item.rename("report-final.pdf")

	assert.Equal(t, "report-final.pdf", item.Name)
	assert.Equal(t, "2024/q3/report-final.pdf", item.RelPath)
	assert.Equal(t, "/docs/2024/q3/report-final.pdf", item.Key())

	// the old session targeted the old key; ledger and progress restart
	assert.Empty(t, item.SessionID())
	assert.Equal(t, 0, item.Progress())
}

func TestItemCanceledIsNeverOverwritten(t *testing.T) {
	// a cancel landing between the last confirmed chunk and the completion
	// transition must win; canceled is terminal
	item := newTestItem(t, 4)
	item.setSession(&upsdk.Session{SessionID: "s1", ChunkSize: 4})
	require.True(t, item.start(func() {}))
	item.markChunk(0)

	item.abort()

	item.markSuccess()
	assert.Equal(t, StatusCanceled, item.Status())
	assert.Empty(t, item.Err())

	item.markError(errors.New("late transport failure"))
	assert.Equal(t, StatusCanceled, item.Status())
	assert.Empty(t, item.Err())

	item.markConflict(errors.New("late conflict"))
	assert.Equal(t, StatusCanceled, item.Status())
	assert.Empty(t, item.Err())
}

func TestItemAbortIsTerminalAndSilent(t *testing.T) {
	item := newTestItem(t, 4)
	item.abort()

	assert.Equal(t, StatusCanceled, item.Status())
	assert.Empty(t, item.Err())

	assert.False(t, item.start(func() {}), "canceled item must not start")
	assert.False(t, item.resetForRetry(), "canceled item must not retry")
}

func TestItemZeroSize(t *testing.T) {
	item := newTestItem(t, 0)
	item.setSession(&upsdk.Session{SessionID: "s1", ChunkSize: 1024})

	_, total := item.currentSession()
	assert.Equal(t, 0, total)
	assert.Empty(t, item.remainingChunks())
}

func TestDivideAndCeil(t *testing.T) {
	assert.Equal(t, int64(4), divideAndCeil(10, 3))
	assert.Equal(t, int64(3), divideAndCeil(9, 3))
	assert.Equal(t, int64(1), divideAndCeil(1, 1024))
	assert.Equal(t, int64(0), divideAndCeil(0, 1024))
	assert.Equal(t, int64(0), divideAndCeil(5, 0))
}
