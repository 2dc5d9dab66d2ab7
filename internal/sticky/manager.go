// Package sticky keeps an operator message at the bottom of a channel by
// deleting and re-posting it after every member message.
package sticky

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/NotiFansly/dashbot/internal/metrics"
)

var (
	ErrAlreadySticky = errors.New("this channel already has a sticky message")
	ErrNoSticky      = errors.New("this channel has no sticky message")
)

// Messenger posts and removes channel messages. Implemented by *transport.Discord.
type Messenger interface {
	SendMessage(ctx context.Context, channelID, content string) (messageID string, err error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type Record struct {
	ChannelID string
	Content   string
	MessageID string
}

// entry serializes reinsertion for one channel. removed is set once the
// entry leaves the manager's map so a waiting repost does not resurrect it.
type entry struct {
	mu      sync.Mutex
	record  Record
	removed bool
}

type Manager struct {
	messenger Messenger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
}

func NewManager(messenger Messenger, m *metrics.Metrics) *Manager {
	return &Manager{
		messenger: messenger,
		metrics:   m,
		entries:   make(map[string]*entry),
	}
}

// Set registers content as the channel's sticky message and posts it. If the
// first post fails nothing is registered.
func (m *Manager) Set(ctx context.Context, channelID, content string) error {
	e := &entry{record: Record{ChannelID: channelID, Content: content}}
	e.mu.Lock()
	defer e.mu.Unlock()

	m.mu.Lock()
	if _, exists := m.entries[channelID]; exists {
		m.mu.Unlock()
		return ErrAlreadySticky
	}
	m.entries[channelID] = e
	n := len(m.entries)
	m.mu.Unlock()

	id, err := m.messenger.SendMessage(ctx, channelID, content)
	if err != nil {
		m.mu.Lock()
		if m.entries[channelID] == e {
			delete(m.entries, channelID)
		}
		n = len(m.entries)
		m.mu.Unlock()
		e.removed = true
		m.metrics.StickyCount(n)
		return fmt.Errorf("posting sticky message: %w", err)
	}

	e.record.MessageID = id
	m.metrics.StickyCount(n)
	log.Printf("Sticky message set in channel %s", channelID)
	return nil
}

// Clear removes the channel's sticky message. Deleting the last posted copy
// is best effort.
func (m *Manager) Clear(ctx context.Context, channelID string) error {
	e, n, ok := m.remove(channelID)
	if !ok {
		return ErrNoSticky
	}
	m.metrics.StickyCount(n)

	e.mu.Lock()
	e.removed = true
	messageID := e.record.MessageID
	e.mu.Unlock()

	if messageID != "" {
		if err := m.messenger.DeleteMessage(ctx, channelID, messageID); err != nil {
			log.Printf("Error deleting sticky message %s in channel %s: %v", messageID, channelID, err)
		}
	}
	log.Printf("Sticky message cleared in channel %s", channelID)
	return nil
}

// OnMessage reposts the channel's sticky message after a non-bot message.
// Reposts for one channel run one at a time in arrival order.
func (m *Manager) OnMessage(ctx context.Context, channelID string, authorIsBot bool) error {
	if authorIsBot {
		return nil
	}

	m.mu.Lock()
	e, ok := m.entries[channelID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil
	}

	if prev := e.record.MessageID; prev != "" {
		if err := m.messenger.DeleteMessage(ctx, channelID, prev); err != nil {
			log.Printf("Error deleting previous sticky message %s in channel %s: %v", prev, channelID, err)
		}
		e.record.MessageID = ""
	}

	id, err := m.messenger.SendMessage(ctx, channelID, e.record.Content)
	if err != nil {
		return fmt.Errorf("reposting sticky message in channel %s: %w", channelID, err)
	}
	e.record.MessageID = id
	m.metrics.StickyReposted()
	return nil
}

// OnChannelDeleted drops the record for a deleted channel without any transport calls.
func (m *Manager) OnChannelDeleted(channelID string) bool {
	e, n, ok := m.remove(channelID)
	if !ok {
		return false
	}
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	m.metrics.StickyCount(n)
	return true
}

func (m *Manager) remove(channelID string) (*entry, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[channelID]
	if ok {
		delete(m.entries, channelID)
	}
	return e, len(m.entries), ok
}

func (m *Manager) Get(channelID string) (Record, bool) {
	m.mu.Lock()
	e, ok := m.entries[channelID]
	m.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, true
}

// List returns all sticky records ordered by channel ID.
func (m *Manager) List() []Record {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.record)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}
