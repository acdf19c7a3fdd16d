package hub

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartMatchmaking runs a matchmaking pass every interval until the returned
// scheduler is shut down. Passes never overlap; a slow hub skips ticks.
func (h *Hub) StartMatchmaking(interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("matchmaking scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if !h.Post(RunMatchmaking{}) {
				h.log.Debug("matchmaking tick after hub closed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("matchmaking"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("matchmaking job: %w", err)
	}
	sched.Start()
	h.log.Info("matchmaking scheduled", zap.Duration("interval", interval))
	return sched, nil
}
