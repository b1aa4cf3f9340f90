package uploader

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueItem(id int64, name string) *Item {
	return newItem(id, &AddRequest{
		Name:       name,
		Source:     NewBytesSource([]byte("x")),
		TargetPath: "/docs",
	})
}

func TestQueuePreservesInsertionOrder(t *testing.T) {
	q := newQueue()
	for i := 1; i <= 3; i++ {
		q.append(queueItem(int64(i), fmt.Sprintf("file-%d", i)))
	}

	views := q.views()
	require.Len(t, views, 3)
	assert.Equal(t, "file-1", views[0].Name)
	assert.Equal(t, "file-3", views[2].Name)
}

func TestQueueRemove(t *testing.T) {
	q := newQueue()
	q.append(queueItem(1, "a"))
	q.append(queueItem(2, "b"))

	removed := q.remove(1)
	require.NotNil(t, removed)
	assert.Equal(t, int64(1), removed.ID)
	assert.Equal(t, 1, q.len())

	assert.Nil(t, q.remove(99))
}

func TestQueueRemoveWhere(t *testing.T) {
	q := newQueue()
	for i := 1; i <= 4; i++ {
		q.append(queueItem(int64(i), fmt.Sprintf("file-%d", i)))
	}
	q.byID(2).markSuccess()
	q.byID(4).markSuccess()

	removed := q.removeWhere(func(item *Item) bool {
		return item.Status().Terminal()
	})
	assert.Len(t, removed, 2)

	views := q.views()
	require.Len(t, views, 2)
	assert.Equal(t, int64(1), views[0].ID)
	assert.Equal(t, int64(3), views[1].ID)
}

func TestQueueNextPending(t *testing.T) {
	q := newQueue()
	assert.Nil(t, q.nextPending())

	q.append(queueItem(1, "a"))
	q.append(queueItem(2, "b"))
	q.byID(1).markSuccess()

	next := q.nextPending()
	require.NotNil(t, next)
	assert.Equal(t, int64(2), next.ID)
}

func TestQueueSubscribeReceivesLifecycleEvents(t *testing.T) {
	q := newQueue()
	events, cancel := q.subscribe()
	defer cancel()

	item := queueItem(1, "a")
	q.append(item)
	q.updated(item)
	q.remove(1)

	types := make([]EventType, 0, 3)
	for i := 0; i < 3; i++ {
		event := <-events
		types = append(types, event.Type)
		if event.Type != EventRefresh {
			require.NotNil(t, event.Item)
			assert.Equal(t, int64(1), event.Item.ID)
		}
	}
	assert.Equal(t, []EventType{EventItemAdded, EventItemUpdated, EventItemRemoved}, types)
}

func TestQueueSubscribeCancelStopsDelivery(t *testing.T) {
	q := newQueue()
	events, cancel := q.subscribe()
	cancel()

	// publishing after cancel must not panic or deliver
	q.append(queueItem(1, "a"))

	_, open := <-events
	assert.False(t, open, "channel should be closed after cancel")
}

func TestQueuePublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	q := newQueue()
	_, cancel := q.subscribe() // never drained
	defer cancel()

	// overflow the buffer; excess events are dropped, not blocking
	for i := 0; i < eventBufferSize*2; i++ {
		q.updated(queueItem(int64(i), "noisy"))
	}
}
