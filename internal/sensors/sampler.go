package sensors

import (
	"log"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
)

// minSleep is the pause taken when a cycle overran its period.
const minSleep = 100 * time.Microsecond

// Sampler runs step once per period on its own goroutine until stopped.
type Sampler struct {
	name   string
	period time.Duration
	clock  clock.Clock
	step   func()
	onExit func()

	started atomic.Bool
	running atomic.Bool
	cycles  atomic.Int64
	done    chan struct{}
}

// NewSampler returns a stopped sampler. onExit, if set, runs when the loop
// ends, which is where the driver gets closed.
func NewSampler(name string, period time.Duration, clk clock.Clock, step, onExit func()) *Sampler {
	if clk == nil {
		clk = clock.New()
	}
	return &Sampler{
		name:   name,
		period: period,
		clock:  clk,
		step:   step,
		onExit: onExit,
		done:   make(chan struct{}),
	}
}

// Start launches the loop. A sampler runs once: later calls are no-ops.
func (s *Sampler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.running.Store(true)
	go s.loop()
}

// Stop clears the run flag and returns at once. The loop exits after its
// current step, so a step stuck in a read only holds its own goroutine.
func (s *Sampler) Stop() {
	s.running.Store(false)
}

// Wait blocks until the loop has exited or timeout passes, and reports
// whether it exited. A sampler that was never started counts as exited.
func (s *Sampler) Wait(timeout time.Duration) bool {
	if !s.started.Load() {
		return true
	}
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Running reports whether the loop is active.
func (s *Sampler) Running() bool { return s.running.Load() }

// Cycles returns how many steps have run.
func (s *Sampler) Cycles() int64 { return s.cycles.Load() }

func (s *Sampler) loop() {
	defer close(s.done)
	if s.onExit != nil {
		defer s.onExit()
	}
	log.Printf("sensors: %s sampler started (period %v)", s.name, s.period)
	for s.running.Load() {
		t1 := s.clock.Now()
		s.step()
		s.cycles.Inc()
		s.clock.Sleep(sleepFor(s.period, s.clock.Since(t1)))
	}
	log.Printf("sensors: %s sampler stopped after %d cycles", s.name, s.cycles.Load())
}

// sleepFor returns the remainder of the period, or minSleep on overrun.
func sleepFor(period, elapsed time.Duration) time.Duration {
	if elapsed < period {
		return period - elapsed
	}
	return minSleep
}
