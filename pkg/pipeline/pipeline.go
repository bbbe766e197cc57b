// Package pipeline runs stages that communicate only through fifo streams.
package pipeline

import (
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Stage is one continuously running process of the offload engine. Step
// evaluates the stage's guards once and performs at most one transition.
// Reset returns the stage to its power-on state.
type Stage interface {
	Name() string
	Step()
	Reset()
}

// Scheduler owns a set of stages. Tick steps them in registration order on
// the caller's goroutine; Start runs every stage on its own goroutine until
// Stop is called. Reset and Tick must not be used while started.
type Scheduler struct {
	stages []Stage
	period time.Duration
	log    zerolog.Logger

	mu      sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
	ticks   uint64
}

// NewScheduler creates a scheduler. A zero period lets started stages run
// free, yielding between steps.
func NewScheduler(period time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{period: period, log: log.With().Str("stage", "scheduler").Logger()}
}

// Add registers stages. Registration order is the Tick evaluation order.
func (s *Scheduler) Add(stages ...Stage) {
	s.stages = append(s.stages, stages...)
}

func (s *Scheduler) Stages() []Stage { return s.stages }

// Tick steps every stage once.
func (s *Scheduler) Tick() {
	for _, st := range s.stages {
		st.Step()
	}
	s.ticks++
}

// Run calls Tick n times.
func (s *Scheduler) Run(n int) {
	for i := 0; i < n; i++ {
		s.Tick()
	}
}

// Ticks returns the number of completed Tick calls.
func (s *Scheduler) Ticks() uint64 { return s.ticks }

// Reset resets every stage.
func (s *Scheduler) Reset() {
	for _, st := range s.stages {
		st.Reset()
	}
	s.ticks = 0
	s.log.Debug().Int("stages", len(s.stages)).Msg("all stages reset")
}

// Start launches one goroutine per stage.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.wg.Add(len(s.stages))
	for _, st := range s.stages {
		go s.runStage(st)
	}
	s.log.Info().Int("stages", len(s.stages)).Dur("period", s.period).Msg("scheduler started")
}

func (s *Scheduler) runStage(st Stage) {
	defer s.wg.Done()
	if s.period <= 0 {
		for {
			select {
			case <-s.done:
				return
			default:
				st.Step()
				runtime.Gosched()
			}
		}
	}
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st.Step()
		case <-s.done:
			return
		}
	}
}

// Stop signals every stage goroutine and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.done)
	s.wg.Wait()
	s.running = false
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
