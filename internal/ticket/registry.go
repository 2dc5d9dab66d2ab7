// Package ticket tracks open support tickets and the private channels that back them.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NotiFansly/dashbot/internal/metrics"
)

var (
	ErrAlreadyOpen       = errors.New("you already have an open ticket")
	ErrNotATicketChannel = errors.New("this channel is not an open ticket")
)

type Ticket struct {
	GuildID   string
	OwnerID   string
	ChannelID string
	Reason    string
	CreatedAt time.Time
}

// ChannelSpec describes the private channel created for a ticket. Only the
// owner and the staff roles may read it.
type ChannelSpec struct {
	GuildID      string
	OwnerID      string
	Name         string
	Topic        string
	CategoryID   string
	StaffRoleIDs []string
}

// ChannelManager creates and deletes ticket channels. Implemented by *transport.Discord.
type ChannelManager interface {
	CreateTicketChannel(ctx context.Context, spec ChannelSpec) (channelID string, err error)
	DeleteChannel(ctx context.Context, channelID string) error
}

type Request struct {
	GuildID   string
	OwnerID   string
	OwnerName string
	Reason    string
}

type ownerKey struct {
	guildID string
	ownerID string
}

type Registry struct {
	channels   ChannelManager
	categoryID string
	staffRoles []string
	metrics    *metrics.Metrics
	now        func() time.Time

	mu sync.Mutex
	// byOwner holds a nil entry while the channel for that owner is being created.
	byOwner   map[ownerKey]*Ticket
	byChannel map[string]*Ticket
}

func NewRegistry(channels ChannelManager, categoryID string, staffRoles []string, m *metrics.Metrics) *Registry {
	return &Registry{
		channels:   channels,
		categoryID: categoryID,
		staffRoles: append([]string(nil), staffRoles...),
		metrics:    m,
		now:        time.Now,
		byOwner:    make(map[ownerKey]*Ticket),
		byChannel:  make(map[string]*Ticket),
	}
}

// Create opens a ticket channel for the requester. The owner slot is reserved
// before the transport call so a concurrent Create for the same owner fails
// with ErrAlreadyOpen instead of creating a second channel.
func (r *Registry) Create(ctx context.Context, req Request) (Ticket, error) {
	key := ownerKey{guildID: req.GuildID, ownerID: req.OwnerID}

	r.mu.Lock()
	if _, exists := r.byOwner[key]; exists {
		r.mu.Unlock()
		return Ticket{}, ErrAlreadyOpen
	}
	r.byOwner[key] = nil
	r.mu.Unlock()

	spec := ChannelSpec{
		GuildID:      req.GuildID,
		OwnerID:      req.OwnerID,
		Name:         channelName(req.OwnerName, req.OwnerID),
		Topic:        req.Reason,
		CategoryID:   r.categoryID,
		StaffRoleIDs: r.staffRoles,
	}
	channelID, err := r.channels.CreateTicketChannel(ctx, spec)
	if err != nil {
		r.mu.Lock()
		delete(r.byOwner, key)
		r.mu.Unlock()
		r.metrics.TicketFailed()
		return Ticket{}, fmt.Errorf("creating ticket channel: %w", err)
	}

	t := &Ticket{
		GuildID:   req.GuildID,
		OwnerID:   req.OwnerID,
		ChannelID: channelID,
		Reason:    req.Reason,
		CreatedAt: r.now(),
	}

	r.mu.Lock()
	r.byOwner[key] = t
	r.byChannel[channelID] = t
	r.mu.Unlock()

	r.metrics.TicketOpened()
	log.Printf("Opened ticket %s for user %s in guild %s", channelID, req.OwnerID, req.GuildID)
	return *t, nil
}

// Close removes the ticket bound to channelID and deletes its channel. The
// record is removed before the transport call; if the delete fails the error
// is returned but the record stays gone so the owner can open a new ticket.
func (r *Registry) Close(ctx context.Context, channelID, requestorID string) (Ticket, error) {
	r.mu.Lock()
	t, ok := r.byChannel[channelID]
	if !ok {
		r.mu.Unlock()
		return Ticket{}, ErrNotATicketChannel
	}
	r.removeLocked(t)
	r.mu.Unlock()

	r.metrics.TicketRemoved("closed")
	log.Printf("Closing ticket %s for user %s (requested by %s)", channelID, t.OwnerID, requestorID)

	if err := r.channels.DeleteChannel(ctx, channelID); err != nil {
		return *t, fmt.Errorf("deleting ticket channel %s: %w", channelID, err)
	}
	return *t, nil
}

// OnChannelDeleted drops the record for a ticket channel deleted outside the bot.
func (r *Registry) OnChannelDeleted(channelID string) bool {
	r.mu.Lock()
	t, ok := r.byChannel[channelID]
	if ok {
		r.removeLocked(t)
	}
	r.mu.Unlock()

	if ok {
		r.metrics.TicketRemoved("orphaned")
		log.Printf("Ticket channel %s was deleted externally, dropping record for user %s", channelID, t.OwnerID)
	}
	return ok
}

func (r *Registry) removeLocked(t *Ticket) {
	delete(r.byChannel, t.ChannelID)
	key := ownerKey{guildID: t.GuildID, ownerID: t.OwnerID}
	if r.byOwner[key] == t {
		delete(r.byOwner, key)
	}
}

// FindByOwner returns the owner's open ticket. A ticket whose channel is
// still being created is not reported.
func (r *Registry) FindByOwner(guildID, ownerID string) (Ticket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.byOwner[ownerKey{guildID: guildID, ownerID: ownerID}]
	if t == nil {
		return Ticket{}, false
	}
	return *t, true
}

// List returns open tickets ordered by creation time.
func (r *Registry) List() []Ticket {
	r.mu.Lock()
	out := make([]Ticket, 0, len(r.byChannel))
	for _, t := range r.byChannel {
		out = append(out, *t)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byChannel)
}

var invalidChannelChars = regexp.MustCompile(`[^a-z0-9-]+`)

// channelName builds a Discord-safe channel name such as "ticket-alice".
func channelName(ownerName, ownerID string) string {
	name := strings.ToLower(strings.TrimSpace(ownerName))
	name = strings.ReplaceAll(name, " ", "-")
	name = invalidChannelChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "-")
	if name == "" {
		name = ownerID
	}
	const maxLen = 90
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return "ticket-" + name
}
