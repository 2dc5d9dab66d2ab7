package bot

import (
	"log"

	"github.com/bwmarrin/discordgo"
)

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "ping",
		Description: "Check that the bot is responding",
	},
	{
		Name:        "info",
		Description: "Show what this bot is",
	},
	{
		Name:        "ticket",
		Description: "Open or close a support ticket",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "open",
				Description: "Open a private support ticket",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "reason",
						Description: "What do you need help with?",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "close",
				Description: "Close the ticket this command is used in",
			},
		},
	},
	{
		Name:        "sticky",
		Description: "Keep a message at the bottom of this channel",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "content",
				Description: "The message to keep at the bottom",
				Required:    true,
			},
		},
	},
	{
		Name:        "unsticky",
		Description: "Remove the sticky message from this channel",
	},
	{
		Name:        "verify",
		Description: "Receive a verification code by direct message",
	},
	{
		Name:        "embed",
		Description: "Create or show stored embeds",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Store a new embed",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "title",
						Description: "Embed title",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "description",
						Description: "Embed description",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "color",
						Description: "Hex color, for example #5865F2",
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "image",
						Description: "Image URL",
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "footer",
						Description: "Footer text",
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "author",
						Description: "Author name",
					},
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "timestamp",
						Description: "Show the creation time",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "show",
				Description: "Post a stored embed in this channel",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "id",
						Description: "Embed ID",
						Required:    true,
					},
				},
			},
		},
	},
}

// CommandNames lists the registered slash commands for the status snapshot.
func CommandNames() []string {
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.Name)
	}
	return names
}

func (b *Bot) registerCommands() {
	if b.Session.State == nil || b.Session.State.User == nil {
		log.Println("Cannot register commands before the session is ready")
		return
	}

	registered, err := b.Session.ApplicationCommandBulkOverwrite(b.Session.State.User.ID, b.guildID, commands)
	if err != nil {
		log.Printf("Error registering commands: %v", err)
		return
	}
	log.Printf("Registered %d slash commands", len(registered))
}
