package app

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/flowberry/internal/fault"
	"github.com/relabs-tech/flowberry/internal/sensors"
)

// Gyro calibration tool defaults.
const (
	GyroCalibDuration = 60 * time.Second
	GyroToolPeriod    = 10 * time.Millisecond
	gyroSettleTime    = 500 * time.Millisecond
	gyroStopTimeout   = time.Second
)

// GyroTool runs the gyro on the bench: it records zero-rate calibration
// samples or prints integrated angles.
type GyroTool struct {
	Driver sensors.GyroDriver
	Period time.Duration
	Clock  clock.Clock
	Out    io.Writer
}

func (g *GyroTool) clock() clock.Clock {
	if g.Clock == nil {
		return clock.New()
	}
	return g.Clock
}

func (g *GyroTool) period() time.Duration {
	if g.Period <= 0 {
		return GyroToolPeriod
	}
	return g.Period
}

// Calibrate samples the still device for duration, writing one line per
// sample to w. It returns early when stop is closed. A read failure ends the
// run with an error.
func (g *GyroTool) Calibrate(w io.Writer, duration time.Duration, stop <-chan struct{}) (int, int, error) {
	var (
		samples, overruns int
		err               error
	)
	clk := g.clock()
	finished := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(finished) }) }

	start := clk.Now()
	step := func() {
		select {
		case <-finished:
			return
		default:
		}
		if clk.Since(start) >= duration {
			finish()
			return
		}
		r, rerr := g.Driver.Read(true)
		if rerr != nil {
			err = fault.New(fault.KindReadFailure, "gyro calibration", rerr)
			finish()
			return
		}
		samples++
		if r.Overrun && samples > 1 {
			overruns++
		}
		if werr := sensors.WriteGyroSample(w, r); werr != nil {
			err = fmt.Errorf("failed to write calibration sample: %w", werr)
			finish()
			return
		}
		fmt.Fprintf(g.Out, "\rFinished %d samples (%d overruns)  ", samples, overruns)
	}

	s := sensors.NewSampler("calibration", g.period(), clk, step, nil)
	s.Start()
	select {
	case <-finished:
	case <-stop:
	}
	s.Stop()
	if !s.Wait(gyroStopTimeout) {
		return 0, 0, errGyroStuck("gyro calibration")
	}
	fmt.Fprintln(g.Out)
	return samples, overruns, err
}

func errGyroStuck(op string) error {
	return fault.Errorf(fault.KindReadFailure, op, "gyro read did not return within %v", gyroStopTimeout)
}

// Angles integrates offset-corrected rates and prints the angles every
// period until stop is closed or a read fails.
func (g *GyroTool) Angles(offsets sensors.GyroOffsets, singleLine bool, stop <-chan struct{}) error {
	var (
		att    sensors.Attitude
		err    error
		failed = make(chan struct{})
	)
	period := g.period()
	step := func() {
		if err != nil {
			return
		}
		r, rerr := g.Driver.Read(true)
		if rerr != nil {
			err = fault.New(fault.KindReadFailure, "gyro angles", rerr)
			close(failed)
			return
		}
		r = offsets.Apply(r)
		att.Integrate(r, period)
		if singleLine {
			fmt.Fprintf(g.Out, "\rX: %.1f, Y: %.1f, Z: %.1f (%d °C, overrun: %v)     ",
				att.X, att.Y, att.Z, r.Temperature, r.Overrun)
		} else {
			fmt.Fprintf(g.Out, "%f %f %f %d\n", att.X, att.Y, att.Z, r.Temperature)
		}
	}

	s := sensors.NewSampler("angles", period, g.clock(), step, nil)
	s.Start()
	select {
	case <-failed:
	case <-stop:
	}
	s.Stop()
	if !s.Wait(gyroStopTimeout) {
		return errGyroStuck("gyro angles")
	}
	fmt.Fprintln(g.Out)
	return err
}

// RunGyroCalib opens the gyro at addr on busName with the stock settings and
// either writes a calibration file or prints angles until interrupted.
func RunGyroCalib(busName string, addr uint16, calibrate, singleLine bool, calibPath string) error {
	gyro, err := sensors.OpenL3GD20H(busName, addr, &sensors.DefaultL3GD20HOpts)
	if err != nil {
		return fmt.Errorf("can't open device 0x%02x or bus %s: %w", addr, busName, err)
	}
	defer gyro.Close()
	time.Sleep(gyroSettleTime)

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	tool := &GyroTool{Driver: gyro, Out: os.Stdout}

	if calibrate {
		f, err := os.Create(calibPath)
		if err != nil {
			return fmt.Errorf("can't save calibration data to %s: %w", calibPath, err)
		}
		defer f.Close()
		fmt.Println("Starting calibration procedure. Please do not move the device.")
		samples, overruns, err := tool.Calibrate(f, GyroCalibDuration, stop)
		if err != nil {
			return err
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("can't save calibration data to %s: %w", calibPath, err)
		}
		fmt.Printf("Calibration data was successfully written to %s (%d samples, %d overruns).\n",
			calibPath, samples, overruns)
		return nil
	}

	offsets, err := sensors.LoadGyroCalibration(calibPath)
	switch {
	case fault.Is(err, fault.KindMissingCalibration):
		log.Printf("WARNING: unable to read calibration data from %s, using zero offsets", calibPath)
	case err != nil:
		return err
	default:
		log.Printf("calibration: read %d samples from %s", offsets.Samples, calibPath)
		log.Printf("calibration: %f, %f, %f (%d °C)", offsets.X, offsets.Y, offsets.Z, offsets.Temperature)
	}
	return tool.Angles(offsets, singleLine, stop)
}
