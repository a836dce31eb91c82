package ai

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the idle eviction every five minutes.
const DefaultSweepSchedule = "@every 5m"

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper runs Pool.Sweep on a cron schedule.
type Sweeper struct {
	pool     *Pool
	schedule string
	onEvict  func(evicted []string)
	hooks    []func()
	cron     *cron.Cron
}

// NewSweeper creates a sweeper. onEvict, if set, is called with the evicted
// identity ids after each sweep that removed something. With a nil pool only
// the hooks run.
func NewSweeper(pool *Pool, schedule string, onEvict func(evicted []string)) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		pool:     pool,
		schedule: schedule,
		onEvict:  onEvict,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// AddHook runs fn on every sweep tick, after eviction. Hooks must be added
// before Start.
func (s *Sweeper) AddHook(fn func()) {
	s.hooks = append(s.hooks, fn)
}

// Start registers the sweep and starts the cron ticker.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	slog.Info("ai sweep scheduled", "schedule", s.schedule)
	return nil
}

func (s *Sweeper) run() {
	defer func() {
		for _, hook := range s.hooks {
			hook()
		}
	}()

	if s.pool == nil {
		return
	}
	evicted := s.pool.Sweep()
	if len(evicted) == 0 {
		return
	}
	slog.Info("inactive ai profiles evicted", "count", len(evicted))
	if s.onEvict != nil {
		s.onEvict(evicted)
	}
}

// Stop halts the ticker and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
