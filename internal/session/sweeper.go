package session

import (
	"context"
	"log"
	"os"
	"time"
)

// Sweeper revokes sessions that have been idle past a fixed timeout. It
// runs until its context is canceled.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger
}

// NewSweeper creates a sweeper over the given registry. Interval is how
// often a sweep runs, timeout how long a session may sit idle.
func NewSweeper(registry *Registry, interval, timeout time.Duration, logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.New(os.Stderr, "[SWEEPER] ", log.LstdFlags)
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run loops on the sweep interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce makes a single pass over live sessions. The idle decision is
// made per user against the activity timestamp read at decision time, so a
// session touched after the sweep began is never revoked.
func (s *Sweeper) SweepOnce() int {
	deadline := time.Now().Add(-s.timeout)

	revoked := 0
	for _, sess := range s.registry.Active() {
		if s.registry.RevokeIfIdle(sess.Username, deadline) {
			s.logger.Printf("revoked idle session for %s (idle since %s)",
				sess.Username, sess.LastActivity.Format(time.RFC3339))
			revoked++
		}
	}
	return revoked
}
