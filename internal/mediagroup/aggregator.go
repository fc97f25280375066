// Package mediagroup collects the photos of a Telegram album, which arrive as
// separate updates sharing a media group id.
package mediagroup

import (
	"fmt"
	"sync"
	"time"
)

const DefaultDebounce = 1200 * time.Millisecond

type Item struct {
	ChatID  int64
	GroupID string
	FileID  string
}

// Group is one album in arrival order.
type Group struct {
	ChatID  int64
	GroupID string
	FileIDs []string
}

type Options struct {
	Debounce time.Duration
	OnFlush  func(Group)
}

type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	onFlush  func(Group)
	groups   map[string]*pending
	stopped  bool
}

type pending struct {
	group Group
	timer *time.Timer
}

func New(opts Options) *Aggregator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Aggregator{
		debounce: debounce,
		onFlush:  opts.OnFlush,
		groups:   make(map[string]*pending),
	}
}

// Add buffers item and restarts the album's quiet timer. Items without a
// group id are refused.
func (a *Aggregator) Add(item Item) bool {
	if item.GroupID == "" || item.FileID == "" {
		return false
	}

	key := makeKey(item.ChatID, item.GroupID)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return false
	}

	p, ok := a.groups[key]
	if !ok {
		p = &pending{group: Group{ChatID: item.ChatID, GroupID: item.GroupID}}
		a.groups[key] = p
	}
	p.group.FileIDs = append(p.group.FileIDs, item.FileID)

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(a.debounce, func() {
		a.flush(key)
	})
	return true
}

// Pending is the number of albums still collecting.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Stop drops every buffered album without flushing it.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	for key, p := range a.groups {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(a.groups, key)
	}
}

func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	p, ok := a.groups[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.groups, key)
	group := p.group
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(group)
	}
}

func makeKey(chatID int64, groupID string) string {
	return fmt.Sprintf("%d:%s", chatID, groupID)
}
