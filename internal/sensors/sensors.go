package sensors

import (
	"fmt"
	"log"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/relabs-tech/flowberry/internal/fault"
)

// Default sampling periods.
const (
	DefaultGyroPeriod  = 10 * time.Millisecond
	DefaultRangePeriod = 100 * time.Millisecond
)

// Options selects the hardware to bring up.
type Options struct {
	GyroBus       string
	GyroAddr      uint16
	Gyro          L3GD20HOpts
	GyroPeriod    time.Duration
	GyroCalibPath string

	RangeEnabled bool
	RangePort    string
	RangeBaud    uint
	RangePeriod  time.Duration

	Clock clock.Clock
}

// Driver constructors, replaced in tests.
var (
	openGyro = func(bus string, addr uint16, opts *L3GD20HOpts) (GyroDriver, error) {
		g, err := OpenL3GD20H(bus, addr, opts)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	openRange = func(port string, baud uint) (RangeDriver, error) {
		s, err := OpenSonar(port, baud)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
)

// Sensors owns the drivers, their samplers and the shared snapshot.
type Sensors struct {
	gyro    GyroDriver
	rng     RangeDriver
	offsets GyroOffsets
	state   *State

	gyroSampler  *Sampler
	rangeSampler *Sampler
	started      bool
}

// Open brings up the gyro, the optional rangefinder and the gyro offsets.
// Driver failures are fatal-at-init. A missing calibration file is logged and
// zero offsets are used.
func Open(opts Options) (*Sensors, error) {
	gyro, err := openGyro(opts.GyroBus, opts.GyroAddr, &opts.Gyro)
	if err != nil {
		return nil, fmt.Errorf("sensors: gyro on %s addr 0x%02x: %w", opts.GyroBus, opts.GyroAddr, err)
	}

	var rng RangeDriver
	if opts.RangeEnabled {
		rng, err = openRange(opts.RangePort, opts.RangeBaud)
		if err != nil {
			return nil, multierr.Append(
				fmt.Errorf("sensors: rangefinder on %s: %w", opts.RangePort, err),
				gyro.Close(),
			)
		}
	}

	offsets, err := LoadGyroCalibration(opts.GyroCalibPath)
	switch {
	case fault.Is(err, fault.KindMissingCalibration):
		log.Printf("sensors: WARNING: no gyro calibration at %s, using zero offsets", opts.GyroCalibPath)
	case err != nil:
		return nil, multierr.Append(fault.New(fault.KindFatalInit, "sensors", err), closeAll(gyro, rng))
	default:
		log.Printf("sensors: gyro calibration: %d samples, offsets %.4f %.4f %.4f (%d °C)",
			offsets.Samples, offsets.X, offsets.Y, offsets.Z, offsets.Temperature)
	}

	return New(gyro, rng, offsets, opts), nil
}

// New assembles Sensors from already initialized drivers. rng may be nil.
func New(gyro GyroDriver, rng RangeDriver, offsets GyroOffsets, opts Options) *Sensors {
	if opts.GyroPeriod <= 0 {
		opts.GyroPeriod = DefaultGyroPeriod
	}
	if opts.RangePeriod <= 0 {
		opts.RangePeriod = DefaultRangePeriod
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	s := &Sensors{gyro: gyro, rng: rng, offsets: offsets, state: NewState()}
	s.gyroSampler = NewSampler("gyro", opts.GyroPeriod, opts.Clock, s.sampleGyro, func() {
		if err := gyro.Close(); err != nil {
			log.Printf("sensors: gyro close: %v", err)
		}
	})
	if rng != nil {
		s.rangeSampler = NewSampler("rangefinder", opts.RangePeriod, opts.Clock, s.sampleRange, func() {
			if err := rng.Close(); err != nil {
				log.Printf("sensors: rangefinder close: %v", err)
			}
		})
	}
	return s
}

// State returns the shared snapshot.
func (s *Sensors) State() *State { return s.state }

// Start launches the samplers.
func (s *Sensors) Start() {
	s.started = true
	s.gyroSampler.Start()
	if s.rangeSampler != nil {
		s.rangeSampler.Start()
	}
}

// Stop signals the samplers to finish and returns without waiting. Each
// sampler closes its driver when its loop exits.
func (s *Sensors) Stop() {
	s.gyroSampler.Stop()
	if s.rangeSampler != nil {
		s.rangeSampler.Stop()
	}
}

// Wait blocks until both samplers have exited or timeout passes on either.
func (s *Sensors) Wait(timeout time.Duration) bool {
	ok := s.gyroSampler.Wait(timeout)
	if s.rangeSampler != nil {
		ok = s.rangeSampler.Wait(timeout) && ok
	}
	return ok
}

// Close stops the samplers without waiting for them, or closes the drivers
// directly if they were never started.
func (s *Sensors) Close() error {
	if s.started {
		s.Stop()
		return nil
	}
	return closeAll(s.gyro, s.rng)
}

func (s *Sensors) sampleGyro() {
	r, err := s.gyro.Read(true)
	if err != nil {
		log.Printf("sensors: can't read gyro: %v", err)
		s.state.SetGyro(GyroReading{})
		return
	}
	s.state.SetGyro(s.offsets.Apply(r))
}

func (s *Sensors) sampleRange() {
	mm, err := s.rng.Read()
	if err != nil {
		log.Printf("sensors: can't read rangefinder: %v", err)
		s.state.SetDistance(0)
		return
	}
	s.state.SetDistance(mm)
}

func closeAll(gyro GyroDriver, rng RangeDriver) error {
	var err error
	if gyro != nil {
		err = multierr.Append(err, gyro.Close())
	}
	if rng != nil {
		err = multierr.Append(err, rng.Close())
	}
	return err
}
