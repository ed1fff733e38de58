package bus

import "sync"

const defaultBufferSize = 100

// EventBus fans archive lifecycle events out to any number of subscribers.
// Publishing never blocks; slow subscribers lose events rather than stalling
// the capture path.
type EventBus struct {
	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		close(eb.done)

		eb.mu.Lock()
		for id, ch := range eb.eventSubscribers {
			close(ch)
			delete(eb.eventSubscribers, id)
		}
		eb.mu.Unlock()
	})
}
