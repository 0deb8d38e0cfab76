package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type RetentionConfig struct {
	Interval time.Duration
	MaxAge   time.Duration
}

func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Interval: time.Hour,
		MaxAge:   30 * 24 * time.Hour,
	}
}

// Sweeper periodically prunes chat history past the retention window.
// Best effort: a failed sweep is logged and retried next tick.
type Sweeper struct {
	store  *SQLite
	config RetentionConfig
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewSweeper(store *SQLite, config RetentionConfig) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultRetentionConfig().Interval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultRetentionConfig().MaxAge
	}
	return &Sweeper{
		store:  store,
		config: config,
		stop:   make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	slog.Info("history sweeper started", "interval", s.config.Interval, "maxAge", s.config.MaxAge)
}

func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.config.MaxAge)
	dropped, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Warn("history sweep failed", "error", err)
		return
	}
	if dropped > 0 {
		slog.Info("history sweep pruned messages", "count", dropped)
	}
}
