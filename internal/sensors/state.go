package sensors

import "sync"

// Snapshot is the latest sensor view handed to the processing loop.
type Snapshot struct {
	GyroX, GyroY, GyroZ float64 // degrees per second, offsets removed
	Temperature         int     // gyro die temperature, degrees Celsius
	Overruns            int     // gyro overruns since the previous Read
	DistanceMM          int
}

// State is the shared context between the samplers and the pipeline. One
// mutex guards the whole snapshot. Reads do not block writers beyond a copy.
type State struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewState returns an empty State.
func NewState() *State { return &State{} }

// SetGyro publishes a gyro sample and counts an overrun if flagged.
func (s *State) SetGyro(r GyroReading) {
	s.mu.Lock()
	s.snap.GyroX = r.RateX
	s.snap.GyroY = r.RateY
	s.snap.GyroZ = r.RateZ
	s.snap.Temperature = r.Temperature
	if r.Overrun {
		s.snap.Overruns++
	}
	s.mu.Unlock()
}

// SetDistance publishes a rangefinder sample.
func (s *State) SetDistance(mm int) {
	s.mu.Lock()
	s.snap.DistanceMM = mm
	s.mu.Unlock()
}

// Read returns the current snapshot and clears the overrun counter.
func (s *State) Read() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	s.snap.Overruns = 0
	return snap
}

