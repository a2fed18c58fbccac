// Package prune periodically evicts idle threads from the in-memory
// fallback store so a long outage cannot grow it without bound.
package prune

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loquahq/loqua/internal/config"
)

// Evictor is the slice of the fallback store the sweeper needs.
type Evictor interface {
	EvictIdle(maxIdle time.Duration) int
}

// Sweeper runs EvictIdle on a fixed cron cadence.
type Sweeper struct {
	cron    *cron.Cron
	store   Evictor
	maxIdle time.Duration
	logger  *slog.Logger
}

func NewSweeper(log *slog.Logger, cfg config.PruneConfig, store Evictor) (*Sweeper, error) {
	interval, err := time.ParseDuration(cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("parse prune interval %q: %w", cfg.Interval, err)
	}
	maxIdle, err := time.ParseDuration(cfg.MaxIdle)
	if err != nil {
		return nil, fmt.Errorf("parse prune max_idle %q: %w", cfg.MaxIdle, err)
	}
	s := &Sweeper{
		cron:    cron.New(),
		store:   store,
		maxIdle: maxIdle,
		logger:  log.With(slog.String("service", "prune")),
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.sweep); err != nil {
		return nil, fmt.Errorf("schedule prune job: %w", err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("prune sweeper started", slog.Duration("max_idle", s.maxIdle))
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	if evicted := s.store.EvictIdle(s.maxIdle); evicted > 0 {
		s.logger.Info("evicted idle threads", slog.Int("count", evicted))
	}
}
