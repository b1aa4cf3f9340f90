package uploader

import (
	"log/slog"
	"sync"
)

const eventBufferSize = 64

type EventType string

const (
	// EventItemAdded fires when an item joins the queue.
	EventItemAdded EventType = "item_added"
	// EventItemUpdated fires on any state mutation of an item.
	EventItemUpdated EventType = "item_updated"
	// EventItemRemoved fires when an item leaves the queue.
	EventItemRemoved EventType = "item_removed"
	// EventRefresh is the debounced queue-finished notification for the
	// listing collaborator.
	EventRefresh EventType = "refresh"
)

type Event struct {
	Type EventType
	Item *ItemView // nil for EventRefresh
}

// queue is the ordered collection of upload items, insertion order preserved.
// The orchestrator is the only writer; observers subscribe for events and
// read snapshots.
type queue struct {
	mu      sync.RWMutex
	items   []*Item
	subs    map[int]chan Event
	nextSub int
}

func newQueue() *queue {
	return &queue{
		subs: make(map[int]chan Event),
	}
}

func (q *queue) append(item *Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	view := item.View()
	q.publish(Event{Type: EventItemAdded, Item: &view})
}

func (q *queue) remove(id int64) *Item {
	q.mu.Lock()
	var removed *Item
	for i, item := range q.items {
		if item.ID == id {
			removed = item
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	if removed != nil {
		view := removed.View()
		q.publish(Event{Type: EventItemRemoved, Item: &view})
	}
	return removed
}

// removeWhere splices out every item matching the predicate and returns them.
func (q *queue) removeWhere(match func(*Item) bool) []*Item {
	q.mu.Lock()
	kept := q.items[:0]
	var removed []*Item
	for _, item := range q.items {
		if match(item) {
			removed = append(removed, item)
		} else {
			kept = append(kept, item)
		}
	}
	q.items = kept
	q.mu.Unlock()

	for _, item := range removed {
		view := item.View()
		q.publish(Event{Type: EventItemRemoved, Item: &view})
	}
	return removed
}

func (q *queue) byID(id int64) *Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, item := range q.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// nextPending returns the earliest item still pending, or nil.
func (q *queue) nextPending() *Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, item := range q.items {
		if item.Status() == StatusPending {
			return item
		}
	}
	return nil
}

// each visits items in queue order.
func (q *queue) each(visit func(*Item)) {
	q.mu.RLock()
	snapshot := make([]*Item, len(q.items))
	copy(snapshot, q.items)
	q.mu.RUnlock()

	for _, item := range snapshot {
		visit(item)
	}
}

func (q *queue) views() []ItemView {
	q.mu.RLock()
	defer q.mu.RUnlock()

	views := make([]ItemView, 0, len(q.items))
	for _, item := range q.items {
		views = append(views, item.View())
	}
	return views
}

func (q *queue) len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// subscribe registers an observer. The returned cancel func must be called to
// release the channel.
func (q *queue) subscribe() (<-chan Event, func()) {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	ch := make(chan Event, eventBufferSize)
	q.subs[id] = ch
	q.mu.Unlock()

	cancel := func() {
		q.mu.Lock()
		if sub, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(sub)
		}
		q.mu.Unlock()
	}
	return ch, cancel
}

func (q *queue) updated(item *Item) {
	view := item.View()
	q.publish(Event{Type: EventItemUpdated, Item: &view})
}

// publish delivers an event to all subscribers without blocking; a slow
// subscriber drops events rather than stalling the engine.
func (q *queue) publish(event Event) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, sub := range q.subs {
		select {
		case sub <- event:
		default:
			slog.Debug("upload queue dropped event: subscriber channel full", "event", event.Type)
		}
	}
}
