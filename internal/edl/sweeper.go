package edl

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// defaultSweepInterval is how often the background sweep rewrites every
// feed file from the database.
const defaultSweepInterval = time.Hour

// Sweeper periodically runs the full regeneration sweep so a feed write
// that failed after commit is repaired without operator action.
type Sweeper struct {
	feeds    *Generator
	interval time.Duration
}

// NewSweeper builds a sweeper around a generator.
func NewSweeper(feeds *Generator) *Sweeper {
	if feeds == nil {
		return nil
	}
	return &Sweeper{feeds: feeds, interval: defaultSweepInterval}
}

// Start launches the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	go s.run(ctx)
	log.WithField("interval", s.interval).Info("feed sweeper started")
}

func (s *Sweeper) run(ctx context.Context) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		paths, errSweep := s.feeds.GenerateAll(ctx)
		if errSweep != nil {
			log.WithError(errSweep).Warn("feed sweep failed")
		} else {
			log.WithField("files", len(paths)).Debug("feed sweep complete")
		}
		timer.Reset(s.interval)
	}
}
