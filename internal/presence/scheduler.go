package presence

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/NotiFansly/dashbot/internal/metrics"
	"github.com/NotiFansly/dashbot/internal/status"
)

const DefaultInterval = 5 * time.Minute

// Updater pushes an activity to the chat transport. Implemented by *transport.Discord.
type Updater interface {
	UpdatePresence(ctx context.Context, activity Activity) error
}

type SnapshotSource interface {
	Snapshot(ctx context.Context) status.Snapshot
}

// Notifier is told after every successful presence update.
type Notifier interface {
	OnStatusChange(ctx context.Context)
}

type Scheduler struct {
	updater    Updater
	snapshots  SnapshotSource
	notifier   Notifier
	candidates []Candidate
	interval   time.Duration
	metrics    *metrics.Metrics
	intn       func(n int) int

	cron *cron.Cron
}

func NewScheduler(updater Updater, snapshots SnapshotSource, notifier Notifier, candidates []Candidate, interval time.Duration, m *metrics.Metrics) *Scheduler {
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		updater:    updater,
		snapshots:  snapshots,
		notifier:   notifier,
		candidates: candidates,
		interval:   interval,
		metrics:    m,
		intn:       rand.IntN,
	}
}

// Tick chooses and pushes one activity. Failures are logged and returned;
// they never stop the schedule.
func (s *Scheduler) Tick(ctx context.Context) error {
	activity, ok := Choose(s.candidates, s.snapshots.Snapshot(ctx), s.intn)
	if !ok {
		return nil
	}

	err := s.updater.UpdatePresence(ctx, activity)
	s.metrics.PresenceUpdated(err)
	if err != nil {
		log.Printf("Error updating presence to %s %q: %v", activity.Kind, activity.Name, err)
		return err
	}

	if s.notifier != nil {
		s.notifier.OnStatusChange(ctx)
	}
	return nil
}

// Start runs Tick every interval until Stop is called. A slow tick causes
// the next one to be skipped rather than stacked.
func (s *Scheduler) Start() error {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Tick(ctx)
	}); err != nil {
		return fmt.Errorf("scheduling presence rotation: %w", err)
	}

	s.cron = c
	c.Start()
	log.Printf("Presence rotation started with a %s interval and %d statuses", s.interval, len(s.candidates))
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
