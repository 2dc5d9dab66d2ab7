package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/NotiFansly/dashbot/internal/bot"
	"github.com/NotiFansly/dashbot/internal/config"
	"github.com/NotiFansly/dashbot/internal/dashboard"
	"github.com/NotiFansly/dashbot/internal/database"
	"github.com/NotiFansly/dashbot/internal/health"
	"github.com/NotiFansly/dashbot/internal/metrics"
	"github.com/NotiFansly/dashbot/internal/models"
	"github.com/NotiFansly/dashbot/internal/presence"
	"github.com/NotiFansly/dashbot/internal/status"
	"github.com/NotiFansly/dashbot/internal/sticky"
	"github.com/NotiFansly/dashbot/internal/ticket"
	"github.com/NotiFansly/dashbot/internal/transport"
	"github.com/NotiFansly/dashbot/internal/verify"
)

var version = "v0.1.0"

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "dashbot",
		Short: "Discord bot with a web dashboard control plane",
		Long: `dashbot runs a Discord bot with support tickets, sticky messages and
member verification, and serves its live status to a web dashboard.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(envFile)
		},
	}
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a .env file with configuration")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	log.Printf("Welcome to dashbot, version: %s", version)

	m := metrics.New()

	db, err := database.Init(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer database.Close(db)

	repo := database.NewRepository(db)

	ctx, cancel := context.WithCancel(context.Background())

	discordAggregator := health.NewAggregator(repo, models.ServiceDiscordAPI)
	aggregatorDone := discordAggregator.Start(ctx, cfg.HealthFlushInterval)
	// the final health flush must land before the deferred database close
	defer func() {
		cancel()
		<-aggregatorDone
	}()

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("creating Discord session: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.TransportRateLimit), cfg.TransportRateBurst)
	discord := transport.NewDiscord(session, limiter, discordAggregator, m)

	cache := status.NewCache(discord, cfg.StatusRefreshInterval, bot.CommandNames())
	publisher := dashboard.NewPublisher(cache, m)

	candidates := presence.DefaultCandidates
	if cfg.PresenceStatuses != "" {
		candidates, err = presence.ParseCandidates(cfg.PresenceStatuses)
		if err != nil {
			return fmt.Errorf("parsing PRESENCE_STATUSES: %w", err)
		}
	}
	scheduler := presence.NewScheduler(discord, cache, publisher, candidates, cfg.PresenceInterval, m)

	tickets := ticket.NewRegistry(discord, cfg.TicketCategoryID, cfg.StaffRoleIDs, m)
	stickies := sticky.NewManager(discord, m)
	flow := verify.NewFlow(discord, cfg.VerificationTimeout, m).WithRole(discord, cfg.VerifiedRoleID)

	b := bot.New(bot.Options{
		Session:           session,
		Transport:         discord,
		Repo:              repo,
		Tickets:           tickets,
		Stickies:          stickies,
		Verify:            flow,
		Presence:          scheduler,
		Notifier:          publisher,
		GuildID:           cfg.DiscordGuildID,
		OwnerID:           cfg.BotOwnerID,
		Workers:           cfg.DispatchWorkers,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})

	server := dashboard.NewServer(publisher, cache, b, repo, m.Registry).WithActivity(dashboard.Activity{
		Tickets:       tickets,
		Stickies:      stickies,
		Verifications: flow,
		Health:        repo,
		APICalls:      discordAggregator,
	})
	server.Start(cfg.HTTPAddr)

	if err := b.Start(); err != nil {
		return fmt.Errorf("starting bot: %w", err)
	}

	// Wait for a SIGINT or SIGTERM signal
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down dashboard server: %v", err)
	}
	b.Stop()

	return nil
}
