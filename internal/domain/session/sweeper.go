package session

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper periodically expires idle sessions on a cron schedule
type Sweeper struct {
	cron    *cron.Cron
	manager *Manager
	logger  *logging.Logger
}

// NewSweeper schedules manager.Sweep. schedule accepts standard cron
// expressions and descriptors such as "@every 1m".
func NewSweeper(manager *Manager, schedule string, logger *logging.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Sweeper{
		cron:    cron.New(),
		manager: manager,
		logger:  logger.Named("sweeper"),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if n := s.manager.Sweep(ctx, time.Now()); n > 0 {
		s.logger.Info("Expired idle sessions",
			zap.Int("expired", n),
			zap.Int("remaining", s.manager.Count()))
	}
}

// Start begins the schedule in its own goroutine
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to
// expire.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
