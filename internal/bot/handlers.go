package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/NotiFansly/dashbot/internal/database"
	"github.com/NotiFansly/dashbot/internal/embed"
	"github.com/NotiFansly/dashbot/internal/models"
	"github.com/NotiFansly/dashbot/internal/sticky"
	"github.com/NotiFansly/dashbot/internal/ticket"
	"github.com/NotiFansly/dashbot/internal/transport"
	"github.com/NotiFansly/dashbot/internal/verify"
)

const (
	pingReply      = "Pong!"
	infoReply      = "I am a Discord bot controlled via a dashboard!"
	commandTimeout = 30 * time.Second
	// interaction tokens stay valid for 15 minutes
	followUpWindow = 14 * time.Minute
)

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("Bot is ready as %s in %d guilds", event.User.Username, len(event.Guilds))
	b.Transport.SetReady(true)
	go func() {
		b.registerCommands()
		b.refreshPresence()
	}()
}

func (b *Bot) resumed(s *discordgo.Session, event *discordgo.Resumed) {
	log.Println("Gateway session resumed")
	b.Transport.SetReady(true)
	go b.broadcast()
}

func (b *Bot) disconnect(s *discordgo.Session, event *discordgo.Disconnect) {
	log.Println("Gateway session disconnected")
	b.Transport.SetReady(false)
	go b.broadcast()
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	channelID, authorID, content, isBot := m.ChannelID, m.Author.ID, m.Content, m.Author.Bot
	guildID := m.GuildID

	b.dispatcher.Dispatch(channelID, func() {
		if guildID == "" {
			b.verify.OnMessage(channelID, authorID, content)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if reply, ok := prefixReply(content); ok && !isBot {
			if _, err := b.Transport.SendMessage(ctx, channelID, reply); err != nil {
				log.Printf("Error replying to %q in channel %s: %v", content, channelID, err)
			}
		}
		if err := b.stickies.OnMessage(ctx, channelID, isBot); err != nil {
			log.Printf("Error reposting sticky message: %v", err)
		}
	})
}

// prefixReply answers the legacy "!" text commands.
func prefixReply(content string) (string, bool) {
	switch strings.TrimSpace(content) {
	case "!ping":
		return pingReply, true
	case "!info":
		return infoReply, true
	}
	return "", false
}

func (b *Bot) isBotOwner(i *discordgo.InteractionCreate) bool {
	if b.ownerID == "" {
		return false
	}
	user := interactionUser(i)
	return user != nil && user.ID == b.ownerID
}

func (b *Bot) interactionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	b.dispatcher.Dispatch(i.ChannelID, func() {
		data := i.ApplicationCommandData()

		if requiresOperator(data) && !b.isBotOwner(i) && !b.hasAdminOrModPermissions(s, i) {
			username := "User"
			if user := interactionUser(i); user != nil {
				username = user.Username
			}
			b.respondToInteraction(s, i, "You do not have permission to use this command.", true)
			log.Printf("Permission denied for user %s on /%s", username, data.Name)
			return
		}

		switch data.Name {
		case "ping":
			b.respondToInteraction(s, i, pingReply, false)
		case "info":
			b.respondToInteraction(s, i, infoReply, false)
		case "ticket":
			b.handleTicketCommand(s, i, data)
		case "sticky":
			b.handleStickyCommand(s, i, data)
		case "unsticky":
			b.handleUnstickyCommand(s, i)
		case "verify":
			b.handleVerifyCommand(s, i)
		case "embed":
			b.handleEmbedCommand(s, i, data)
		}
	})
}

// requiresOperator reports whether the command is limited to admins and the bot owner.
func requiresOperator(data discordgo.ApplicationCommandInteractionData) bool {
	switch data.Name {
	case "sticky", "unsticky":
		return true
	case "embed":
		return len(data.Options) > 0 && data.Options[0].Name == "create"
	}
	return false
}

func (b *Bot) handleTicketCommand(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if i.GuildID == "" {
		b.respondToInteraction(s, i, "Tickets can only be used inside a server.", true)
		return
	}
	if len(data.Options) == 0 {
		return
	}

	sub := data.Options[0]
	switch sub.Name {
	case "open":
		b.handleTicketOpen(s, i, optionMap(sub.Options))
	case "close":
		b.handleTicketClose(s, i)
	}
}

func (b *Bot) handleTicketOpen(s *discordgo.Session, i *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.deferInteraction(s, i, true) {
		return
	}

	user := interactionUser(i)
	reason := ""
	if opt, ok := opts["reason"]; ok {
		reason = opt.StringValue()
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	t, err := b.tickets.Create(ctx, ticket.Request{
		GuildID:   i.GuildID,
		OwnerID:   user.ID,
		OwnerName: user.Username,
		Reason:    reason,
	})
	if errors.Is(err, ticket.ErrAlreadyOpen) {
		msg := "You already have an open ticket."
		if existing, ok := b.tickets.FindByOwner(i.GuildID, user.ID); ok {
			msg = fmt.Sprintf("You already have an open ticket: <#%s>", existing.ChannelID)
		}
		b.editInteractionResponse(s, i, msg)
		return
	}
	if err != nil {
		log.Printf("Error creating ticket for user %s: %v", user.ID, err)
		b.editInteractionResponse(s, i, failureMessage(err, "Could not create your ticket. Please ask a moderator for help."))
		return
	}

	welcome := fmt.Sprintf("<@%s> thanks for reaching out. Staff will be with you shortly.\n**Reason:** %s\nUse `/ticket close` here when you are done.", user.ID, reason)
	if _, err := b.Transport.SendMessage(ctx, t.ChannelID, welcome); err != nil {
		log.Printf("Error sending ticket welcome message in %s: %v", t.ChannelID, err)
	}

	b.editInteractionResponse(s, i, fmt.Sprintf("Your ticket has been created: <#%s>", t.ChannelID))
	go b.broadcast()
}

func (b *Bot) handleTicketClose(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.deferInteraction(s, i, false) {
		return
	}

	user := interactionUser(i)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	_, err := b.tickets.Close(ctx, i.ChannelID, user.ID)
	switch {
	case errors.Is(err, ticket.ErrNotATicketChannel):
		b.editInteractionResponse(s, i, "This command can only be used inside an open ticket channel.")
	case err != nil:
		log.Printf("Error closing ticket channel %s: %v", i.ChannelID, err)
		b.editInteractionResponse(s, i, failureMessage(err, "The ticket was closed but its channel could not be deleted. Please remove it manually."))
	default:
		// the channel and this interaction's response are gone
		go b.broadcast()
	}
}

func (b *Bot) handleStickyCommand(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	content := ""
	if opt, ok := optionMap(data.Options)["content"]; ok {
		content = opt.StringValue()
	}
	if strings.TrimSpace(content) == "" {
		b.respondToInteraction(s, i, "The sticky message cannot be empty.", true)
		return
	}
	if !b.deferInteraction(s, i, true) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	err := b.stickies.Set(ctx, i.ChannelID, content)
	switch {
	case errors.Is(err, sticky.ErrAlreadySticky):
		msg := "This channel already has a sticky message. Use `/unsticky` first."
		if current, ok := b.stickies.Get(i.ChannelID); ok {
			msg = fmt.Sprintf("This channel already has a sticky message:\n> %s\nUse `/unsticky` first.", current.Content)
		}
		b.editInteractionResponse(s, i, msg)
	case err != nil:
		log.Printf("Error setting sticky message in %s: %v", i.ChannelID, err)
		b.editInteractionResponse(s, i, failureMessage(err, "Could not post the sticky message."))
	default:
		b.editInteractionResponse(s, i, "Sticky message set.")
	}
}

func (b *Bot) handleUnstickyCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.deferInteraction(s, i, true) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := b.stickies.Clear(ctx, i.ChannelID); errors.Is(err, sticky.ErrNoSticky) {
		b.editInteractionResponse(s, i, "This channel has no sticky message.")
		return
	}
	b.editInteractionResponse(s, i, "Sticky message removed.")
}

func (b *Bot) handleVerifyCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		b.respondToInteraction(s, i, "Run this command inside the server you want to verify for.", true)
		return
	}
	if !b.deferInteraction(s, i, true) {
		return
	}

	user := interactionUser(i)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	h, err := b.verify.Start(ctx, i.GuildID, user.ID)
	switch {
	case errors.Is(err, verify.ErrAlreadyPending):
		b.editInteractionResponse(s, i, "You already have a pending verification. Check your direct messages.")
	case err != nil:
		log.Printf("Error starting verification for user %s: %v", user.ID, err)
		b.editInteractionResponse(s, i, failureMessage(err, "I couldn't send you a direct message. Please allow DMs from server members and try again."))
	default:
		b.editInteractionResponse(s, i, "I've sent you a verification code by direct message. Reply there with the code.")
		go b.followVerification(s, i, h)
	}
}

// followVerification updates the ephemeral reply once the challenge resolves.
func (b *Bot) followVerification(s *discordgo.Session, i *discordgo.InteractionCreate, h *verify.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), followUpWindow)
	defer cancel()

	state, err := h.Wait(ctx)
	if err != nil {
		return
	}
	switch state {
	case verify.Verified:
		b.editInteractionResponse(s, i, "Verification complete. Welcome!")
	case verify.TimedOut:
		b.editInteractionResponse(s, i, "Verification timed out. Run `/verify` to try again.")
	}
}

func (b *Bot) handleEmbedCommand(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	opts := optionMap(sub.Options)

	switch sub.Name {
	case "create":
		b.handleEmbedCreate(s, i, opts)
	case "show":
		b.handleEmbedShow(s, i, opts)
	}
}

func (b *Bot) handleEmbedCreate(s *discordgo.Session, i *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	colorHex := stringOption(opts, "color")
	color, err := embed.ParseColor(colorHex)
	if err != nil {
		b.respondToInteraction(s, i, "Invalid hex color format. Please use `#[6-digit code]`, for example: `#5865F2`.", true)
		return
	}

	draft := &models.EmbedDraft{
		Title:       stringOption(opts, "title"),
		Description: stringOption(opts, "description"),
		Color:       color,
		ImageURL:    stringOption(opts, "image"),
		Footer:      stringOption(opts, "footer"),
		Author:      stringOption(opts, "author"),
	}
	if opt, ok := opts["timestamp"]; ok {
		draft.Timestamp = opt.BoolValue()
	}
	if user := interactionUser(i); user != nil {
		draft.CreatedBy = user.ID
	}

	if err := embed.Validate(*draft); err != nil {
		b.respondToInteraction(s, i, fmt.Sprintf("Invalid embed: %v", err), true)
		return
	}
	if err := b.Repo.CreateEmbedDraft(draft); err != nil {
		log.Printf("Error storing embed draft: %v", err)
		b.respondToInteraction(s, i, "Failed to save the embed.", true)
		return
	}

	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: fmt.Sprintf("Saved embed **#%d**. Post it with `/embed show id:%d`.", draft.ID, draft.ID),
			Embeds:  []*discordgo.MessageEmbed{embed.Build(*draft)},
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func (b *Bot) handleEmbedShow(s *discordgo.Session, i *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	opt, ok := opts["id"]
	if !ok || opt.IntValue() <= 0 {
		b.respondToInteraction(s, i, "Please provide a valid embed ID.", true)
		return
	}
	id := uint(opt.IntValue())

	draft, err := b.Repo.GetEmbedDraft(id)
	if errors.Is(err, database.ErrNotFound) {
		b.respondToInteraction(s, i, fmt.Sprintf("No embed with ID %d exists.", id), true)
		return
	}
	if err != nil {
		log.Printf("Error loading embed draft %d: %v", id, err)
		b.respondToInteraction(s, i, "An error occurred while loading the embed.", true)
		return
	}

	if !b.deferInteraction(s, i, true) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if _, err := b.Transport.SendEmbed(ctx, i.ChannelID, embed.Build(*draft)); err != nil {
		log.Printf("Error posting embed %d in %s: %v", id, i.ChannelID, err)
		b.editInteractionResponse(s, i, failureMessage(err, "Could not post the embed in this channel."))
		return
	}
	b.editInteractionResponse(s, i, fmt.Sprintf("Posted embed #%d.", id))
}

// failureMessage picks the user-facing text for a failed direct action.
func failureMessage(err error, fallback string) string {
	if errors.Is(err, transport.ErrUnavailable) {
		return "Discord is not accepting requests from the bot right now. Please try again in a moment."
	}
	return fallback
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func stringOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if opt, ok := opts[name]; ok {
		return strings.TrimSpace(opt.StringValue())
	}
	return ""
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func (b *Bot) respondToInteraction(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		log.Printf("Error responding to interaction: %v", err)
	}
}

func (b *Bot) deferInteraction(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) bool {
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}
	if ephemeral {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		log.Printf("Error deferring interaction: %v", err)
		return false
	}
	return true
}

func (b *Bot) editInteractionResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
	if err != nil {
		log.Printf("Error editing interaction response: %v", err)
	}
}

func (b *Bot) hasAdminOrModPermissions(s *discordgo.Session, i *discordgo.InteractionCreate) bool {
	if i.GuildID == "" || i.Member == nil {
		return false
	}

	if i.Member.Permissions&discordgo.PermissionAdministrator == discordgo.PermissionAdministrator {
		return true
	}

	if i.Member.Permissions&discordgo.PermissionManageGuild == discordgo.PermissionManageGuild {
		return true
	}

	guild, err := s.State.Guild(i.GuildID)
	if err == nil && i.Member.User != nil && guild.OwnerID == i.Member.User.ID {
		return true
	}

	return false
}
