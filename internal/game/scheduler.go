package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const DEFAULT_TASK_TIMEOUT = 5 * time.Second

// Task is one periodic job. Run receives the tick time; it owns no state
// between ticks.
type Task struct {
	Name       string
	Every      time.Duration
	RunAtStart bool
	Run        func(ctx context.Context, now time.Time) error
}

// TaskStatus is the last observed outcome of a task.
type TaskStatus struct {
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Scheduler ticks every registered task on its own ticker. A failing or
// panicking task is logged and recorded; it never stops its own ticker or
// any other task.
type Scheduler struct {
	clock   clockwork.Clock
	timeout time.Duration
	tasks   []Task

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	statusMu sync.RWMutex
	status   map[string]TaskStatus
}

func NewScheduler(clock clockwork.Clock, timeout time.Duration) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if timeout <= 0 {
		timeout = DEFAULT_TASK_TIMEOUT
	}
	return &Scheduler{
		clock:   clock,
		timeout: timeout,
		status:  make(map[string]TaskStatus),
	}
}

// Register adds a task. Tasks registered after Start are not run.
func (s *Scheduler) Register(tasks ...Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, tasks...)
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	for _, t := range s.tasks {
		if t.Every <= 0 {
			return fmt.Errorf("task %s: period must be positive", t.Name)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}

	log.Info().Int("tasks", len(s.tasks)).Msg("scheduler started")
	return nil
}

// Stop cancels all tasks and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a snapshot of every task's last outcome.
func (s *Scheduler) Status() map[string]TaskStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	out := make(map[string]TaskStatus, len(s.status))
	for name, st := range s.status {
		out[name] = st
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(t.Every)
	defer ticker.Stop()

	if t.RunAtStart {
		s.runTask(ctx, t)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.runTask(ctx, t)
		}
	}
}

// runTask is the error boundary around a single tick.
func (s *Scheduler) runTask(ctx context.Context, t Task) (err error) {
	now := s.clock.Now()
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
		s.record(t.Name, now, err)
		if err != nil {
			log.Error().Err(err).Str("task", t.Name).Time("tick", now).Msg("scheduled task failed")
		}
	}()

	return t.Run(runCtx, now)
}

func (s *Scheduler) record(name string, at time.Time, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status[name]
	st.Runs++
	st.LastRun = &at
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
	s.status[name] = st
}

// Cadences are the periods of the six round tasks.
type Cadences struct {
	Daily     time.Duration // long-period horizon run
	Catchup   time.Duration // short-period horizon run
	Lifecycle time.Duration // each advancer operation
}

func DefaultCadences() Cadences {
	return Cadences{
		Daily:     24 * time.Hour,
		Catchup:   10 * time.Minute,
		Lifecycle: time.Minute,
	}
}

// RoundTasks wires the planner and advancer into the six periodic tasks.
func RoundTasks(planner *Planner, advancer *Advancer, c Cadences) []Task {
	ensure := func(ctx context.Context, now time.Time) error {
		_, err := planner.EnsureRounds(ctx, now)
		return err
	}
	step := func(op func(context.Context, time.Time) ([]Round, error)) func(context.Context, time.Time) error {
		return func(ctx context.Context, now time.Time) error {
			_, err := op(ctx, now)
			return err
		}
	}

	return []Task{
		{Name: "generate-daily", Every: c.Daily, RunAtStart: true, Run: ensure},
		{Name: "generate-upcoming", Every: c.Catchup, Run: ensure},
		{Name: "open-betting", Every: c.Lifecycle, Run: step(advancer.OpenBetting)},
		{Name: "close-betting", Every: c.Lifecycle, Run: step(advancer.CloseBetting)},
		{Name: "start-rounds", Every: c.Lifecycle, Run: step(advancer.StartRounds)},
		{Name: "finish-rounds", Every: c.Lifecycle, Run: step(advancer.FinishRounds)},
	}
}
