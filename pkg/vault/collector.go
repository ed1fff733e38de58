package vault

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"packrat/pkg/packer"
)

const defaultGroupWindow = 3 * time.Second

// CompletedGroup is one settled album: every captured member in arrival
// order, with ordinals already assigned, plus the capture context shared by
// the group.
type CompletedGroup struct {
	GroupID  string
	Channel  string
	ChatID   string
	SenderID string
	Packed   []packer.PackedMessage
}

// FlushFunc receives a settled album. It runs on the collector's timer
// goroutine (or inside Close), so implementations must not call back into
// the collector.
type FlushFunc func(group CompletedGroup)

// Collector buffers messages that share a media group id. Platforms deliver
// album members as separate rapid-fire messages; the collector holds them
// until no new member arrives for a full window, then hands the ordered
// batch to the flush callback as one unit.
type Collector struct {
	window  time.Duration
	flushFn FlushFunc
	log     *slog.Logger

	mu     sync.Mutex
	groups map[string]*pendingGroup
	closed bool
}

type pendingGroup struct {
	channel  string
	chatID   string
	senderID string
	items    []packer.PackedMessage
	timer    *time.Timer
}

// NewCollector builds a collector that settles albums after the given quiet
// window. A non-positive window falls back to the default.
func NewCollector(window time.Duration, flushFn FlushFunc, log *slog.Logger) (*Collector, error) {
	if flushFn == nil {
		return nil, errors.New("flush callback is required")
	}
	if window <= 0 {
		window = defaultGroupWindow
	}
	if log == nil {
		log = slog.Default()
	}

	return &Collector{
		window:  window,
		flushFn: flushFn,
		log:     log.With("component", "vault.collector"),
		groups:  make(map[string]*pendingGroup),
	}, nil
}

// Add buffers one album member. The member's ordinal is its arrival
// position within the group, and every arrival restarts the group's quiet
// window.
func (c *Collector) Add(channel, chatID, senderID string, packed packer.PackedMessage) error {
	groupID := packed.GroupID
	if groupID == "" {
		return errors.New("message carries no group id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCollectorClosed
	}

	group, ok := c.groups[groupID]
	if !ok {
		group = &pendingGroup{
			channel:  channel,
			chatID:   chatID,
			senderID: senderID,
		}
		group.timer = time.AfterFunc(c.window, func() {
			c.flush(groupID)
		})
		c.groups[groupID] = group
		c.log.Debug("Album opened", "group_id", groupID, "chat_id", chatID)
	} else {
		group.timer.Reset(c.window)
	}

	packed.Ordinal = len(group.items)
	group.items = append(group.items, packed)

	return nil
}

// Pending returns the number of albums still waiting to settle.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.groups)
}

// flush pops a settled group and hands it to the callback outside the lock.
func (c *Collector) flush(groupID string) {
	c.mu.Lock()
	group, ok := c.groups[groupID]
	if ok {
		delete(c.groups, groupID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	c.log.Debug("Album settled", "group_id", groupID, "items", len(group.items))
	c.flushFn(completed(groupID, group))
}

// Close stops the timers and flushes every pending album synchronously, so
// a shutdown mid-album still archives what arrived. Add reports
// ErrCollectorClosed afterwards.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	remaining := make(map[string]*pendingGroup, len(c.groups))
	for groupID, group := range c.groups {
		group.timer.Stop()
		remaining[groupID] = group
		delete(c.groups, groupID)
	}
	c.mu.Unlock()

	for groupID, group := range remaining {
		c.log.Debug("Flushing album on close", "group_id", groupID, "items", len(group.items))
		c.flushFn(completed(groupID, group))
	}
}

func completed(groupID string, group *pendingGroup) CompletedGroup {
	return CompletedGroup{
		GroupID:  groupID,
		Channel:  group.channel,
		ChatID:   group.chatID,
		SenderID: group.senderID,
		Packed:   group.items,
	}
}
