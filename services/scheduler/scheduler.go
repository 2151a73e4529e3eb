package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"renewbot-backend/lib/timezone"
	"renewbot-backend/services/userstore"

	"github.com/robfig/cron/v3"
)

// Runner is what the scheduler fires. The batch wiring lives elsewhere,
// tests substitute a recorder.
type Runner interface {
	RunUser(ctx context.Context, uid string)
	RunSummary(ctx context.Context)
}

type Options struct {
	// MaxJitter bounds the random delay applied before a per-user run so
	// users sharing a schedule don't hit the sites in one spike.
	MaxJitter time.Duration
	// SummarySpec is the cron spec for the fixed admin-wide summary run.
	// Empty disables it.
	SummarySpec string
}

func (o *Options) fillDefaults() {
	if o.MaxJitter <= 0 {
		o.MaxJitter = time.Minute * 5
	}
}

// Scheduler owns one daily cron entry per user plus the fixed summary
// entry. Replacing a user's schedule removes the old entry and installs
// the new one under a single lock, so there is never a moment with two
// live triggers for the same user.
type Scheduler struct {
	runner Runner
	opts   Options

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID

	ctx context.Context
}

func New(runner Runner, opts Options) (*Scheduler, error) {
	opts.fillDefaults()
	s := &Scheduler{
		runner:  runner,
		opts:    opts,
		cron:    cron.New(cron.WithLocation(timezone.Location)),
		entries: map[string]cron.EntryID{},
		ctx:     context.Background(),
	}

	if opts.SummarySpec != "" {
		_, err := s.cron.AddFunc(opts.SummarySpec, func() {
			s.runner.RunSummary(s.ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("invalid summary spec %q: %w", opts.SummarySpec, err)
		}
	}
	return s, nil
}

// Start begins firing entries. The cron loop stops when ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
}

// Sync installs an entry for every stored user, used at startup.
func (s *Scheduler) Sync(data *userstore.Data) {
	for uid, user := range data.Users {
		err := s.Set(uid, user.SignHour, user.SignMinute)
		if err != nil {
			slog.Error("failed to schedule user", "uid", uid, "err", err)
		}
	}
}

// Set installs the daily trigger for uid at (hour, minute), replacing
// any existing one atomically.
func (s *Scheduler) Set(uid string, hour, minute int) error {
	err := userstore.ValidateSchedule(hour, minute)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[uid]; ok {
		s.cron.Remove(old)
	}
	id, err := s.cron.AddFunc(fmt.Sprintf("%d %d * * *", minute, hour), func() {
		s.fireUser(uid)
	})
	if err != nil {
		delete(s.entries, uid)
		return fmt.Errorf("schedule user %q: %w", uid, err)
	}
	s.entries[uid] = id
	return nil
}

// Remove drops the trigger for uid, a no-op when none exists.
func (s *Scheduler) Remove(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[uid]; ok {
		s.cron.Remove(id)
		delete(s.entries, uid)
	}
}

// Scheduled reports whether uid currently has a live trigger.
func (s *Scheduler) Scheduled(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[uid]
	return ok
}

// EntryCount reports the number of live entries including the summary.
func (s *Scheduler) EntryCount() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) fireUser(uid string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	jitter := time.Duration(rand.Int63n(int64(s.opts.MaxJitter) + 1))
	slog.Info("daily run firing", "uid", uid, "jitter", jitter)
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}
	s.runner.RunUser(ctx, uid)
}
