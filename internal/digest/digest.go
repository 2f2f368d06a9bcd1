// Package digest periodically reports delivery health to operators. It only
// reads delivery records; failed jobs are retried through the admin API.
package digest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"jobboard/internal/storage"
	"jobboard/pkg/logx"
)

const (
	DefaultRecentFailed = 10
	runTimeout          = 30 * time.Second
)

type Config struct {
	Enabled      bool
	Schedule     string
	Timezone     string
	RecentFailed int
}

// Validate checks the schedule and timezone without touching a running service.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := ParseSchedule(c.Schedule); err != nil {
		return err
	}
	if _, err := loadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

type Store interface {
	CountDeliveries(ctx context.Context) (map[storage.DeliveryStatus]int, error)
	ListDeliveries(ctx context.Context, f storage.DeliveryFilter) ([]storage.DeliveryRecord, error)
}

// Report is the result of one digest run.
type Report struct {
	Counts map[storage.DeliveryStatus]int
	Failed []storage.DeliveryRecord
}

type Service struct {
	store Store
	log   logx.Logger
	now   func() time.Time

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
	ctx context.Context // set while Run is active

	busy atomic.Bool
	runs atomic.Uint64
}

func New(cfg Config, store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log, cfg: cfg, now: time.Now}
}

// Run schedules digests until ctx is cancelled and waits for an in-flight
// run to finish before returning.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	err := s.restartLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	<-ctx.Done()

	s.mu.Lock()
	done := s.stopLocked()
	s.ctx = nil
	s.mu.Unlock()
	<-done.Done()
	return nil
}

// Reschedule applies a new config. A running service swaps its cron
// immediately; an invalid config leaves the current schedule in place.
func (s *Service) Reschedule(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.ctx == nil {
		return nil
	}
	if old.Enabled == cfg.Enabled && old.Schedule == cfg.Schedule && old.Timezone == cfg.Timezone {
		return nil
	}
	return s.restartLocked()
}

// Runs reports how many scheduled digests have completed.
func (s *Service) Runs() uint64 { return s.runs.Load() }

func (s *Service) restartLocked() error {
	s.stopLocked()
	cfg := s.cfg
	if !cfg.Enabled {
		s.log.Info("delivery digest disabled")
		return nil
	}
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	s.c = cron.New(cron.WithLocation(loc))
	s.c.Schedule(sched, cron.FuncJob(s.tick))
	s.c.Start()
	s.log.Info("delivery digest scheduled",
		logx.String("schedule", cfg.Schedule),
		logx.String("tz", loc.String()),
		logx.Time("next", sched.Next(s.now().In(loc))),
	)
	return nil
}

// stopLocked halts the cron; the returned context is done once running jobs return.
func (s *Service) stopLocked() context.Context {
	if s.c == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	done := s.c.Stop()
	s.c = nil
	return done
}

func (s *Service) tick() {
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Debug("delivery digest still running; tick skipped")
		return
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	if base == nil {
		return
	}
	ctx, cancel := context.WithTimeout(base, runTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error("delivery digest failed", logx.Err(err))
		return
	}
	s.runs.Add(1)
}

// RunOnce builds and logs a digest. Failed records are logged at WARN so the
// Telegram log sink forwards them to operators.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	counts, err := s.store.CountDeliveries(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("count deliveries: %w", err)
	}
	rep := Report{Counts: counts}

	s.log.Info("delivery digest",
		logx.Int("posted", counts[storage.DeliveryPosted]),
		logx.Int("pending", counts[storage.DeliveryPending]),
		logx.Int("failed", counts[storage.DeliveryFailed]),
	)
	if counts[storage.DeliveryFailed] == 0 {
		return rep, nil
	}

	s.mu.Lock()
	limit := s.cfg.RecentFailed
	s.mu.Unlock()
	if limit <= 0 {
		limit = DefaultRecentFailed
	}
	rep.Failed, err = s.store.ListDeliveries(ctx, storage.DeliveryFilter{Status: storage.DeliveryFailed, Limit: limit})
	if err != nil {
		return rep, fmt.Errorf("list failed deliveries: %w", err)
	}
	s.log.Warn("failed job broadcasts awaiting retry",
		logx.Int("failed", counts[storage.DeliveryFailed]),
		logx.String("recent", summarize(rep.Failed)),
	)
	return rep, nil
}

func summarize(recs []storage.DeliveryRecord) string {
	var b strings.Builder
	for i, r := range recs {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s (%d attempts): %s", r.JobID, r.Attempts, r.LastError)
	}
	return b.String()
}
