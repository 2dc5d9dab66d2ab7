// Package transport adapts a discordgo session to the narrow capabilities the
// control-plane components consume.
package transport

import (
	"context"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/NotiFansly/dashbot/internal/health"
	"github.com/NotiFansly/dashbot/internal/metrics"
	"github.com/NotiFansly/dashbot/internal/presence"
	"github.com/NotiFansly/dashbot/internal/ticket"
)

const ticketChannelPerms = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionReadMessageHistory

// session is the subset of *discordgo.Session used here.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
}

type Discord struct {
	session session
	guilds  func() []*discordgo.Guild
	selfID  func() string
	limiter *rate.Limiter
	health  *health.Aggregator
	metrics *metrics.Metrics
	ready   atomic.Bool
}

// NewDiscord wraps s. Outbound calls wait on limiter; a nil limiter means no throttling.
func NewDiscord(s *discordgo.Session, limiter *rate.Limiter, agg *health.Aggregator, m *metrics.Metrics) *Discord {
	d := newDiscord(s, stateGuilds(s.State), limiter, agg, m)
	d.selfID = stateUserID(s.State)
	return d
}

func newDiscord(s session, guilds func() []*discordgo.Guild, limiter *rate.Limiter, agg *health.Aggregator, m *metrics.Metrics) *Discord {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Discord{
		session: s,
		guilds:  guilds,
		selfID:  func() string { return "" },
		limiter: limiter,
		health:  agg,
		metrics: m,
	}
}

func stateGuilds(state *discordgo.State) func() []*discordgo.Guild {
	return func() []*discordgo.Guild {
		if state == nil {
			return nil
		}
		state.RLock()
		defer state.RUnlock()
		return append([]*discordgo.Guild(nil), state.Guilds...)
	}
}

// stateUserID returns the bot's own user ID once READY has filled the state.
func stateUserID(state *discordgo.State) func() string {
	return func() string {
		if state == nil {
			return ""
		}
		state.RLock()
		defer state.RUnlock()
		if state.User == nil {
			return ""
		}
		return state.User.ID
	}
}

// Ready reports whether the gateway session is connected and has received READY.
func (d *Discord) Ready() bool { return d.ready.Load() }

func (d *Discord) SetReady(ready bool) { d.ready.Store(ready) }

// do throttles, runs and records one outbound call.
func (d *Discord) do(ctx context.Context, op string, fn func(opts ...discordgo.RequestOption) error) error {
	if err := d.limiter.Wait(ctx); err != nil {
		d.metrics.TransportCall(op, err)
		return Classify(err)
	}
	err := fn(discordgo.WithContext(ctx))
	d.health.RecordCall(err == nil)
	d.metrics.TransportCall(op, err)
	return Classify(err)
}

func (d *Discord) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	var id string
	err := d.do(ctx, "send_message", func(opts ...discordgo.RequestOption) error {
		msg, err := d.session.ChannelMessageSend(channelID, content, opts...)
		if err != nil {
			return err
		}
		id = msg.ID
		return nil
	})
	return id, err
}

func (d *Discord) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (string, error) {
	var id string
	err := d.do(ctx, "send_embed", func(opts ...discordgo.RequestOption) error {
		msg, err := d.session.ChannelMessageSendEmbed(channelID, embed, opts...)
		if err != nil {
			return err
		}
		id = msg.ID
		return nil
	})
	return id, err
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return d.do(ctx, "delete_message", func(opts ...discordgo.RequestOption) error {
		return d.session.ChannelMessageDelete(channelID, messageID, opts...)
	})
}

// CreateTicketChannel creates a text channel hidden from @everyone and
// visible to the owner and the staff roles. The bot keeps access so it can
// post in the channel and delete it on close.
func (d *Discord) CreateTicketChannel(ctx context.Context, spec ticket.ChannelSpec) (string, error) {
	botID := d.selfID()
	if botID == "" {
		return "", ErrUnavailable
	}

	overwrites := []*discordgo.PermissionOverwrite{
		{
			// the @everyone role shares the guild's ID
			ID:   spec.GuildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
		{
			ID:    spec.OwnerID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: ticketChannelPerms,
		},
		{
			ID:    botID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: ticketChannelPerms | discordgo.PermissionManageChannels,
		},
	}
	for _, roleID := range spec.StaffRoleIDs {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    roleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: ticketChannelPerms,
		})
	}

	data := discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                spec.Topic,
		ParentID:             spec.CategoryID,
		PermissionOverwrites: overwrites,
	}

	var id string
	err := d.do(ctx, "create_channel", func(opts ...discordgo.RequestOption) error {
		ch, err := d.session.GuildChannelCreateComplex(spec.GuildID, data, opts...)
		if err != nil {
			return err
		}
		id = ch.ID
		return nil
	})
	return id, err
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID string) error {
	return d.do(ctx, "delete_channel", func(opts ...discordgo.RequestOption) error {
		_, err := d.session.ChannelDelete(channelID, opts...)
		return err
	})
}

// OpenDM returns the direct message channel with userID.
func (d *Discord) OpenDM(ctx context.Context, userID string) (string, error) {
	var id string
	err := d.do(ctx, "open_dm", func(opts ...discordgo.RequestOption) error {
		ch, err := d.session.UserChannelCreate(userID, opts...)
		if err != nil {
			return err
		}
		id = ch.ID
		return nil
	})
	return id, err
}

func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.do(ctx, "add_role", func(opts ...discordgo.RequestOption) error {
		return d.session.GuildMemberRoleAdd(guildID, userID, roleID, opts...)
	})
}

func (d *Discord) UpdatePresence(ctx context.Context, activity presence.Activity) error {
	return d.do(ctx, "update_presence", func(...discordgo.RequestOption) error {
		return d.session.UpdateStatusComplex(discordgo.UpdateStatusData{
			Status: "online",
			Activities: []*discordgo.Activity{
				{Name: activity.Name, Type: activityType(activity.Kind)},
			},
		})
	})
}

func activityType(kind presence.ActivityKind) discordgo.ActivityType {
	switch kind {
	case presence.Watching:
		return discordgo.ActivityTypeWatching
	case presence.Listening:
		return discordgo.ActivityTypeListening
	case presence.Competing:
		return discordgo.ActivityTypeCompeting
	default:
		return discordgo.ActivityTypeGame
	}
}

// GuildStats sums guild and member counts from the gateway state cache.
func (d *Discord) GuildStats(ctx context.Context) (guilds, members int, err error) {
	if !d.Ready() {
		return 0, 0, ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, Classify(err)
	}
	for _, g := range d.guilds() {
		guilds++
		members += g.MemberCount
	}
	return guilds, members, nil
}
