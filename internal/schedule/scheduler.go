package schedule

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/utkarshkpal/now-cli/internal/logger"
)

// Scheduler triggers periodic rebuilds from a cron expression
type Scheduler struct {
	cron *cron.Cron
}

// New validates the cron expression and registers the trigger. The
// trigger runs in the cron goroutine and must handle its own errors.
func New(spec string, trigger func()) (*Scheduler, error) {
	c := cron.New()

	if _, err := c.AddFunc(spec, trigger); err != nil {
		return nil, fmt.Errorf("invalid rebuild schedule %q: %w", spec, err)
	}

	return &Scheduler{cron: c}, nil
}

// Start begins firing the schedule
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("Rebuild scheduler started")
}

// Stop halts the schedule and waits for a running trigger to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Rebuild scheduler stopped")
}
