// internal/digest/digest.go

// Package digest sends guardians a periodic mood summary for the children
// they watch, on a cron schedule.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/kidwatch/internal/notify"
	"github.com/user/kidwatch/internal/types"
)

// Watchlist reports which delivery targets are watching which children.
type Watchlist interface {
	Targets() map[types.ChildID][]string
}

// Scheduler fires the digest on a cron schedule.
type Scheduler struct {
	schedule  string
	watchlist Watchlist
	moods     types.MoodStore
	registry  *notify.Registry
	cron      *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a digest Scheduler. The schedule is a cron expression.
func New(schedule string, watchlist Watchlist, moods types.MoodStore, registry *notify.Registry) *Scheduler {
	return &Scheduler{
		schedule:  schedule,
		watchlist: watchlist,
		moods:     moods,
		registry:  registry,
		cron:      cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the digest job and starts the cron ticker.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.run)
	if err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	slog.Info("digest scheduled", "schedule", s.schedule)
	return nil
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for childID, targets := range s.watchlist.Targets() {
		summary, err := s.Summarize(ctx, childID)
		if err != nil {
			slog.Error("digest summary failed", "child_id", string(childID), "error", err)
			continue
		}
		for _, target := range targets {
			if err := s.registry.Deliver(target, summary); err != nil {
				slog.Error("digest delivery failed", "target", target, "error", err)
			}
		}
	}
}

// Summarize builds the digest text for one child from the recent mood trend.
func (s *Scheduler) Summarize(ctx context.Context, childID types.ChildID) (string, error) {
	entries, err := s.moods.RecentMoods(ctx, childID, 0)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Mood digest for %s: no recorded activity.", childID), nil
	}

	counts := make(map[types.Emotion]int)
	var totalSentiment float64
	for _, e := range entries {
		counts[e.Mood]++
		totalSentiment += e.Sentiment
	}

	dominant := entries[0].Mood
	for mood, count := range counts {
		if count > counts[dominant] {
			dominant = mood
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Mood digest for %s\n", childID)
	fmt.Fprintf(&b, "Entries: %d, dominant mood: %s\n", len(entries), dominant)
	fmt.Fprintf(&b, "Average intensity: %.2f\n", totalSentiment/float64(len(entries)))
	fmt.Fprintf(&b, "Latest: %s at %s", entries[len(entries)-1].Mood,
		entries[len(entries)-1].Timestamp.Format("15:04"))
	return b.String(), nil
}
