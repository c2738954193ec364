// Package scheduler runs the hourly digest tick, dispatching the pipeline for
// each due user.
package scheduler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"cyberbrief/internal/core"
	"cyberbrief/internal/feeds"
	"cyberbrief/internal/logger"
	"cyberbrief/internal/persistence"
	"cyberbrief/internal/pipeline"
)

// tickInterval is the scheduler's wakeup cadence.
const tickInterval = time.Hour

// Runner executes one user's digest pipeline.
type Runner interface {
	Run(ctx context.Context, userID string) pipeline.DigestResult
}

// DigestMailer delivers the digest email after a successful run.
type DigestMailer interface {
	SendDigest(ctx context.Context, user core.User) error
}

// Scheduler drives the hourly digest loop.
type Scheduler struct {
	db      persistence.Database
	runner  Runner
	scraper *feeds.Scraper
	mailer  DigestMailer
	now     func() time.Time
}

// New creates a scheduler. mailer may be nil when email delivery is not
// configured.
func New(db persistence.Database, runner Runner, scraper *feeds.Scraper, mailer DigestMailer) *Scheduler {
	return &Scheduler{
		db:      db,
		runner:  runner,
		scraper: scraper,
		mailer:  mailer,
		now:     time.Now,
	}
}

// Start ticks immediately and then hourly until the context is canceled.
// Ticks run to completion even if they overrun the interval; a slow tick
// simply delays the next one, it is never run concurrently with it.
func (s *Scheduler) Start(ctx context.Context) {
	logger.Info("scheduler started", "interval", tickInterval.String())
	s.Tick(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass: find due users, pre-warm the feed cache
// across their source union, and run each user's pipeline in isolation.
func (s *Scheduler) Tick(ctx context.Context) {
	users, err := s.db.Users().List(ctx)
	if err != nil {
		logger.Error("failed to load users for tick", err)
		return
	}

	now := s.now().UTC()
	var due []core.User
	for _, user := range users {
		if IsDue(user, now) {
			due = append(due, user)
		}
	}
	if len(due) == 0 {
		return
	}
	logger.Info("digest tick", "dueUsers", len(due))

	s.prewarm(ctx, due)

	for _, user := range due {
		s.runUser(ctx, user)
	}
}

// IsDue applies the scheduling predicate: known frequency, elapsed interval,
// and for daily-or-longer frequencies the user's preferred UTC hour.
func IsDue(user core.User, now time.Time) bool {
	interval, ok := core.FrequencyIntervals[user.DigestFrequency]
	if !ok {
		return false
	}
	if user.LastDigestAt != nil && now.Sub(*user.LastDigestAt) < interval {
		return false
	}
	if interval >= 24*time.Hour {
		if now.Hour() != digestHour(user.DigestTime) {
			return false
		}
	}
	return true
}

// digestHour parses the hour out of a "HH:MM" preference. Malformed values
// fall back to hour 0.
func digestHour(digestTime string) int {
	parts := strings.SplitN(digestTime, ":", 2)
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || hour < 0 || hour > 23 {
		return 0
	}
	return hour
}

// prewarm fetches the union of due users' active RSS source URLs into the
// scraper cache, so the per-user scrapes that follow are cache hits.
func (s *Scheduler) prewarm(ctx context.Context, due []core.User) {
	seen := make(map[string]bool)
	var urls []string
	for _, user := range due {
		sources, err := s.db.Sources().ListActiveByUser(ctx, user.ID)
		if err != nil {
			logger.Warn("pre-warm source load failed", "userId", user.ID, "reason", err.Error())
			continue
		}
		for _, src := range sources {
			if src.Type == core.SourceRSS && !seen[src.URL] {
				seen[src.URL] = true
				urls = append(urls, src.URL)
			}
		}
	}
	if len(urls) > 0 {
		s.scraper.PreWarm(ctx, urls, 0)
	}
}

// runUser executes one user's pipeline. Failures are logged and never
// propagate to the tick loop.
func (s *Scheduler) runUser(ctx context.Context, user core.User) {
	result := s.runner.Run(ctx, user.ID)
	logger.Info("digest run complete",
		"userId", user.ID,
		"scraped", result.Scraped,
		"matched", result.Matched,
		"summarized", result.Summarized,
		"errors", len(result.Errors))

	if err := s.db.Users().UpdateLastDigestAt(ctx, user.ID, s.now().UTC()); err != nil {
		logger.Warn("failed to update last digest time", "userId", user.ID, "reason", err.Error())
	}

	if s.mailer != nil && user.EmailEnabled && result.Matched > 0 {
		if err := s.mailer.SendDigest(ctx, user); err != nil {
			logger.Warn("digest email failed", "userId", user.ID, "reason", err.Error())
		}
	}
}
