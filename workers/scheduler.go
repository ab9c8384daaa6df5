// workers/scheduler.go
package workers

import (
	"context"
	"time"

	"endgame-arena/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// Task is a periodic maintenance job. Run reports how many records it touched.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) (int, error)
}

// Scheduler runs Tasks on fixed intervals. A task never overlaps itself.
type Scheduler struct {
	sched gocron.Scheduler
}

func NewScheduler(tasks []Task) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if _, err := sched.NewJob(
			gocron.DurationJob(t.Every),
			gocron.NewTask(runTask, t),
			gocron.WithName(t.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			_ = sched.Shutdown()
			return nil, err
		}
	}
	return &Scheduler{sched: sched}, nil
}

// runTask receives the job's context from gocron, which is cancelled on
// Shutdown.
func runTask(ctx context.Context, t Task) {
	n, err := t.Run(ctx)
	if err != nil {
		log.Error().Err(err).Str("job", t.Name).Msg("[SCHEDULER] job failed")
		return
	}
	if n > 0 {
		log.Info().Str("job", t.Name).Int("count", n).Msg("[SCHEDULER] job done")
	}
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown stops scheduling and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// ArenaTasks is the maintenance schedule of the arena: pending match expiry,
// stalled round advancement, verification code expiry and settlement dispatch.
func ArenaTasks(matches *services.MatchService, verification *services.VerificationService, settlement *services.SettlementService, sweep, dispatch time.Duration) []Task {
	tasks := []Task{
		{Name: "expire-pending-matches", Every: sweep, Run: matches.ExpirePendingMatches},
		{Name: "advance-stalled-rounds", Every: sweep, Run: matches.AdvanceStalledRounds},
		{Name: "expire-verification-codes", Every: sweep, Run: func(ctx context.Context) (int, error) {
			n, err := verification.ExpireVerificationCodes(ctx)
			return int(n), err
		}},
	}
	if settlement != nil && settlement.Provider != nil {
		tasks = append(tasks, Task{Name: "dispatch-settlements", Every: dispatch, Run: settlement.DispatchPending})
	}
	return tasks
}
