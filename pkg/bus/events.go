package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventRecordStored EventType = "record_stored"
	EventGroupStored  EventType = "group_stored"
	EventReplaySent   EventType = "replay_sent"
	EventReplayFailed EventType = "replay_failed"
)

type Event struct {
	Type     EventType         `json:"type"`
	At       time.Time         `json:"at"`
	Channel  string            `json:"channel,omitempty"`
	ChatID   string            `json:"chat_id,omitempty"`
	RecordID string            `json:"record_id,omitempty"`
	Category string            `json:"category,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func (eb *EventBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-eb.done:
		return false
	default:
	}

	eb.mu.RLock()
	subs := make([]chan Event, 0, len(eb.eventSubscribers))
	for _, ch := range eb.eventSubscribers {
		subs = append(subs, ch)
	}
	eb.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the publisher on slow subscribers.
		}
	}

	return true
}

func (eb *EventBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	eb.mu.Lock()
	select {
	case <-eb.done:
		eb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := eb.nextEventSubscriberID
	eb.nextEventSubscriberID++
	eb.eventSubscribers[id] = ch
	eb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			eb.mu.Lock()
			if eventCh, ok := eb.eventSubscribers[id]; ok {
				delete(eb.eventSubscribers, id)
				close(eventCh)
			}
			eb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-eb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
