package bot

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/NotiFansly/dashbot/internal/database"
	"github.com/NotiFansly/dashbot/internal/models"
	"github.com/NotiFansly/dashbot/internal/presence"
	"github.com/NotiFansly/dashbot/internal/sticky"
	"github.com/NotiFansly/dashbot/internal/ticket"
	"github.com/NotiFansly/dashbot/internal/verify"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildMembers

var (
	ErrSessionOpen   = errors.New("bot session is already running")
	ErrSessionClosed = errors.New("bot session is not running")
)

// Transport is the outbound chat capability the handlers reply through.
// Implemented by *transport.Discord.
type Transport interface {
	Ready() bool
	SetReady(ready bool)
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (string, error)
}

// Options wires the control-plane components into the bot.
type Options struct {
	Session   *discordgo.Session
	Transport Transport
	Repo      *database.Repository

	Tickets  *ticket.Registry
	Stickies *sticky.Manager
	Verify   *verify.Flow
	Presence *presence.Scheduler
	// Notifier is told about readiness changes; usually the dashboard publisher.
	Notifier presence.Notifier

	GuildID           string
	OwnerID           string
	Workers           int
	HeartbeatInterval time.Duration
}

type Bot struct {
	Session   *discordgo.Session
	Transport Transport
	Repo      *database.Repository

	tickets    *ticket.Registry
	stickies   *sticky.Manager
	verify     *verify.Flow
	presence   *presence.Scheduler
	notifier   presence.Notifier
	dispatcher *Dispatcher

	guildID           string
	ownerID           string
	heartbeatInterval time.Duration

	mu          sync.Mutex
	sessionOpen bool
	cancel      context.CancelFunc
}

func New(opts Options) *Bot {
	// Handlers run in gateway order; the dispatcher provides the per-channel concurrency.
	opts.Session.SyncEvents = true
	opts.Session.Identify.Intents = intents

	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 2 * time.Minute
	}

	bot := &Bot{
		Session:           opts.Session,
		Transport:         opts.Transport,
		Repo:              opts.Repo,
		tickets:           opts.Tickets,
		stickies:          opts.Stickies,
		verify:            opts.Verify,
		presence:          opts.Presence,
		notifier:          opts.Notifier,
		dispatcher:        NewDispatcher(opts.Workers),
		guildID:           opts.GuildID,
		ownerID:           opts.OwnerID,
		heartbeatInterval: opts.HeartbeatInterval,
	}

	bot.registerHandlers()

	return bot
}

// Start opens the gateway session and starts the background loops.
func (b *Bot) Start() error {
	if err := b.StartSession(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	go b.heartbeat(ctx)

	return b.presence.Start()
}

func (b *Bot) Stop() {
	b.presence.Stop()

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()

	if err := b.StopSession(); err != nil && !errors.Is(err, ErrSessionClosed) {
		log.Printf("Error closing Discord session: %v", err)
	}
	b.dispatcher.Stop()
}

// StartSession opens the gateway connection. Readiness is reported once
// Discord sends READY.
func (b *Bot) StartSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessionOpen {
		return ErrSessionOpen
	}
	if err := b.Session.Open(); err != nil {
		return err
	}
	b.sessionOpen = true
	log.Println("Discord session opened")
	return nil
}

// StopSession closes the gateway connection and marks the bot offline.
func (b *Bot) StopSession() error {
	b.mu.Lock()
	if !b.sessionOpen {
		b.mu.Unlock()
		return ErrSessionClosed
	}
	b.Transport.SetReady(false)
	err := b.Session.Close()
	b.sessionOpen = false
	b.mu.Unlock()

	log.Println("Discord session closed")
	go b.broadcast()
	return err
}

func (b *Bot) registerHandlers() {
	b.Session.AddHandler(b.ready)
	b.Session.AddHandler(b.resumed)
	b.Session.AddHandler(b.disconnect)
	b.Session.AddHandler(b.interactionCreate)
	b.Session.AddHandler(b.messageCreate)
	b.Session.AddHandler(b.guildCreate)
	b.Session.AddHandler(b.guildDelete)
	b.Session.AddHandler(b.channelDelete)
}

func (b *Bot) guildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	log.Printf("Bot joined a new server: %s", event.Guild.Name)
	go b.refreshPresence()
}

func (b *Bot) guildDelete(s *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Unavailable {
		log.Printf("Guild %s became unavailable.", event.ID)
	} else {
		log.Printf("Bot removed from guild: %s", event.ID)
	}
	go b.refreshPresence()
}

func (b *Bot) channelDelete(s *discordgo.Session, event *discordgo.ChannelDelete) {
	channelID := event.ID
	b.dispatcher.Dispatch(channelID, func() {
		b.tickets.OnChannelDeleted(channelID)
		if b.stickies.OnChannelDeleted(channelID) {
			log.Printf("Sticky channel %s was deleted, dropping its record", channelID)
		}
	})
}

// refreshPresence rotates the presence now and tells the dashboard. A
// successful tick notifies on its own.
func (b *Bot) refreshPresence() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.presence.Tick(ctx); err != nil && b.notifier != nil {
		b.notifier.OnStatusChange(ctx)
	}
}

func (b *Bot) broadcast() {
	if b.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	b.notifier.OnStatusChange(ctx)
}

func (b *Bot) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()

	for {
		state := "operational"
		if !b.Transport.Ready() {
			state = "offline"
		}
		status := &models.ServiceStatus{
			ServiceName:   models.ServiceDiscordBot,
			Status:        state,
			LastHeartbeat: time.Now(),
		}
		if err := b.Repo.UpsertServiceStatus(status); err != nil {
			log.Printf("Error sending heartbeat: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
