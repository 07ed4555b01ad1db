// Package scheduler runs the daily reflection tick (spec §4.9/§5, C11).
// Reminders are not polled here: spec §6 fires them only on demand, via
// the check_reminders tool. This package owns exactly one timer.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/oscillatelabsllc/memoria/internal/reflection"
)

// reflectionHour is the UTC hour the daily reflection run fires at
// (spec §4.9: "runs once daily").
const reflectionHour = 6

// checkInterval is how often the scheduler wakes up to see whether it's
// time to run. A minute is fine granularity for a once-a-day job.
const checkInterval = time.Minute

// Scheduler triggers reflection.Controller.Run once per UTC calendar day
// at reflectionHour, tracking the last date it fired so later ticks in the
// same hour don't re-run it. The date is held in memory only: a process
// restarted during reflectionHour runs reflection again that day.
type Scheduler struct {
	controller *reflection.Controller
	lastRun    string
	done       chan struct{}
}

// New creates a scheduler bound to controller.
func New(controller *reflection.Controller) *Scheduler {
	return &Scheduler{controller: controller, done: make(chan struct{})}
}

// Start runs the scheduling loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case now := <-ticker.C:
			s.maybeRun(ctx, now.UTC())
		}
	}
}

// Stop ends the scheduling loop.
func (s *Scheduler) Stop() {
	close(s.done)
}

func (s *Scheduler) maybeRun(ctx context.Context, now time.Time) {
	if now.Hour() != reflectionHour {
		return
	}
	date := now.Format("2006-01-02")
	if date == s.lastRun {
		return
	}
	s.lastRun = date

	result, err := s.controller.Run(ctx, date)
	if err != nil {
		log.Printf("scheduler: reflection run for %s failed: %v", date, err)
		return
	}
	if !result.Success {
		log.Printf("scheduler: reflection run for %s reported failure: %s", date, result.Error)
	}
}
