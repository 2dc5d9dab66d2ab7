// Package status keeps a memoized snapshot of the bot's guild and member
// counts for the dashboard.
package status

import (
	"context"
	"log"
	"sync"
	"time"
)

const DefaultRefreshInterval = 30 * time.Second

// Snapshot is what the dashboard shows. Counts are zero while the bot is offline.
type Snapshot struct {
	Online        bool      `json:"online"`
	GuildCount    int       `json:"server_count"`
	UserCount     int       `json:"user_count"`
	Commands      []string  `json:"commands"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// Source is the part of the chat transport the cache reads from.
type Source interface {
	Ready() bool
	GuildStats(ctx context.Context) (guilds, members int, err error)
}

type Cache struct {
	source   Source
	interval time.Duration
	commands []string
	now      func() time.Time

	mu   sync.Mutex
	snap Snapshot
}

// NewCache returns a cache that re-queries source at most once per interval.
func NewCache(source Source, interval time.Duration, commands []string) *Cache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Cache{
		source:   source,
		interval: interval,
		commands: append([]string(nil), commands...),
		now:      time.Now,
	}
}

// Snapshot returns the current snapshot, refreshing the counts first when the
// last successful refresh is older than the interval. A failed refresh keeps
// the previous counts and is retried on the next call.
func (c *Cache) Snapshot(ctx context.Context) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	online := c.source.Ready()
	now := c.now()
	if online && (c.snap.LastRefreshed.IsZero() || now.Sub(c.snap.LastRefreshed) > c.interval) {
		c.refreshLocked(ctx, now)
	}

	snap := c.snap
	snap.Online = online
	snap.Commands = append([]string(nil), c.commands...)
	if !online {
		snap.GuildCount = 0
		snap.UserCount = 0
		snap.Commands = []string{}
	}
	return snap
}

func (c *Cache) refreshLocked(ctx context.Context, now time.Time) {
	guilds, members, err := c.source.GuildStats(ctx)
	if err != nil {
		log.Printf("Error refreshing status snapshot, keeping last known counts: %v", err)
		return
	}
	c.snap.GuildCount = guilds
	c.snap.UserCount = members
	if now.After(c.snap.LastRefreshed) {
		c.snap.LastRefreshed = now
	}
}
