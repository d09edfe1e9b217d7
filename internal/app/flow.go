// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/relabs-tech/flowberry/internal/camera"
	"github.com/relabs-tech/flowberry/internal/capture"
	"github.com/relabs-tech/flowberry/internal/config"
	"github.com/relabs-tech/flowberry/internal/display"
	"github.com/relabs-tech/flowberry/internal/fault"
	"github.com/relabs-tech/flowberry/internal/monitor"
	"github.com/relabs-tech/flowberry/internal/motion"
	"github.com/relabs-tech/flowberry/internal/pipeline"
	"github.com/relabs-tech/flowberry/internal/sensors"
	"github.com/relabs-tech/flowberry/internal/telemetry"
)

// SyntheticInput selects the built-in field generator instead of a stream.
const SyntheticInput = "synthetic"

// RunFlow brings up the sensors, the motion pipeline and the telemetry
// outputs, then feeds the pipeline from the configured capture streams until
// the input ends or the process is interrupted.
func RunFlow(cfg *config.Config, fps int, visualize bool) error {
	log.Printf("starting flowberry at %d fps (visualize=%v)", fps, visualize)
	if err := checkInputs(cfg, visualize); err != nil {
		return err
	}

	sens, err := sensors.Open(sensorOptions(cfg))
	if err != nil {
		return err
	}

	calc, err := buildCalculator(cfg)
	if err != nil {
		return multierr.Append(err, sens.Close())
	}

	hub := telemetry.NewHub(telemetry.NewConverter(cfg.PixelToMeter, nil))
	var closers []io.Closer

	udp, err := telemetry.NewUDPSender(cfg.TelemetryUDPAddr, identity(cfg), cfg.Heartbeat(), nil)
	if err != nil {
		return multierr.Append(fault.New(fault.KindFatalInit, "telemetry", err), sens.Close())
	}
	udp.Start()
	hub.Add(udp)
	closers = append(closers, udp)

	if cfg.MQTTBroker != "" {
		mq, err := telemetry.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientIDFlow, cfg.TopicFlow)
		if err != nil {
			log.Printf("WARNING: %v; MQTT mirror disabled", err)
		} else {
			hub.Add(mq)
			closers = append(closers, mq)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var p *pipeline.Pipeline
	var mon *monitor.Server
	if cfg.WebServerPort != 0 {
		mon = monitor.New(fmt.Sprintf(":%d", cfg.WebServerPort), func() pipeline.Stats { return p.Stats() })
		hub.Add(mon)
	}

	if cfg.DisplayEnabled {
		panel, err := display.Open(cfg.DisplayI2CBus, cfg.DisplayI2CAddr, cfg.DisplayPeriod())
		if err != nil {
			log.Printf("WARNING: %v; display disabled", err)
		} else {
			hub.Add(panel)
			closers = append(closers, panel)
			go panel.Run(ctx)
		}
	}

	opts := pipeline.Options{
		Width:      cfg.FrameWidth,
		Height:     cfg.FrameHeight,
		FPS:        fps,
		Visualize:  visualize,
		Calculator: calc,
		Sensors:    sens.State(),
		Sink:       hub,
	}
	if mon != nil {
		opts.Visualizer = mon
	}
	p, err = pipeline.New(opts)
	if err != nil {
		return multierr.Append(err, closeAll(append(closers, sens)))
	}

	if mon != nil {
		go func() {
			if err := mon.ListenAndServe(); err != nil {
				log.Printf("WARNING: %v", err)
			}
		}()
	}

	sens.Start()
	runDone := make(chan struct{})
	go func() {
		p.Run()
		close(runDone)
	}()

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		if err := feed(ctx, cfg, p, visualize); err != nil {
			log.Printf("WARNING: capture: %v", err)
			if fault.Is(err, fault.KindFailStop) {
				// Degraded: keep the heartbeat alive until interrupted.
				<-ctx.Done()
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Println("shutting down")
	case <-inputDone:
		log.Println("capture input finished, shutting down")
	}
	cancel()

	p.Stop()
	<-runDone
	log.Printf("pipeline: %s", p.Stats())
	if last, n := hub.Latest(); n > 0 {
		log.Printf("telemetry: %d samples published, last quality %d", n, last.Quality)
	}

	if err := sens.Close(); err != nil {
		log.Printf("sensors: close: %v", err)
	}
	if mon != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		if err := mon.Shutdown(shutdownCtx); err != nil {
			log.Printf("monitor: shutdown: %v", err)
		}
		done()
	}
	if err := closeAll(closers); err != nil {
		log.Printf("WARNING: close: %v", err)
	}
	return nil
}

// checkInputs rejects input combinations that would leave the pipeline
// waiting forever. With visualization on, every vector field is paired with
// a frame, so a stream source needs FRAME_INPUT alongside it.
func checkInputs(cfg *config.Config, visualize bool) error {
	if visualize && cfg.VectorInput != SyntheticInput && cfg.FrameInput == "" {
		return fault.Errorf(fault.KindFatalInit, "capture", "gui mode needs FRAME_INPUT to pair frames with vector fields")
	}
	return nil
}

// feed runs the capture readers for the configured inputs.
func feed(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, visualize bool) error {
	geom := p.Geometry()
	epoch := capture.NewEpoch(nil)

	if cfg.VectorInput == SyntheticInput {
		log.Println("capture: using synthetic vector fields")
		src := capture.NewSynthetic(geom, motion.Similarity{A: 1, TX: 2, TY: -1}, 0.1, uint64(time.Now().UnixNano()))
		var frames capture.IngestFunc
		if visualize {
			frames = p.ProcessFrame
		}
		return src.Run(ctx, p.FrameDelay(), nil, p.ProcessVectors, frames)
	}

	var wg sync.WaitGroup
	var frameErr error
	if visualize {
		f, err := capture.OpenFile(cfg.FrameInput)
		if err != nil {
			return err
		}
		defer f.Close()
		frames := capture.NewFrameReader(f, geom, p.ProcessFrame, epoch)
		wg.Add(1)
		go func() {
			defer wg.Done()
			frameErr = frames.Run(ctx)
		}()
	}

	var in io.Reader = os.Stdin
	if cfg.VectorInput != "" {
		f, err := capture.OpenFile(cfg.VectorInput)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	vectors := capture.NewVectorReader(in, geom, p.ProcessVectors, epoch)
	err := vectors.Run(ctx)
	wg.Wait()
	if err != nil {
		return err
	}
	return frameErr
}

// buildCalculator assembles the motion stages. Without a camera calibration
// file the undistortion stage passes points through.
func buildCalculator(cfg *config.Config) (*motion.Calculator, error) {
	var remap motion.Remapper
	cal, err := camera.LoadCalibration(cfg.CameraCalibPath)
	switch {
	case fault.Is(err, fault.KindMissingCalibration):
		log.Printf("WARNING: no camera calibration at %s, undistortion disabled", cfg.CameraCalibPath)
	case err != nil:
		return nil, fault.New(fault.KindFatalInit, "camera", err)
	default:
		r, err := camera.BuildRemap(cal, cfg.CameraAlpha)
		if err != nil {
			return nil, fault.New(fault.KindFatalInit, "camera", err)
		}
		if cal.Width != cfg.FrameWidth || cal.Height != cfg.FrameHeight {
			log.Printf("WARNING: camera calibration is %dx%d, frames are %dx%d",
				cal.Width, cal.Height, cfg.FrameWidth, cfg.FrameHeight)
		}
		log.Printf("camera: undistortion tables built for %dx%d", cal.Width, cal.Height)
		remap = r
	}

	est := &motion.Estimator{
		Trials:    cfg.RANSACTrials,
		Streams:   cfg.RANSACStreams,
		Threshold: cfg.RANSACThresholdPx,
	}
	return motion.NewCalculator(
		motion.NewUndistorter(remap),
		motion.NewCompensator(cfg.GyroFocalConstant),
		est,
	), nil
}

func sensorOptions(cfg *config.Config) sensors.Options {
	return sensors.Options{
		GyroBus:  cfg.GyroI2CBus,
		GyroAddr: cfg.GyroI2CAddr,
		Gyro: sensors.L3GD20HOpts{
			Range:    sensors.GyroRange(cfg.GyroRange),
			DataRate: sensors.GyroDataRate(cfg.GyroDataRate),
			LowPass:  cfg.GyroLowPass,
			HighPass: cfg.GyroHighPass,
		},
		GyroPeriod:    cfg.GyroPeriod(),
		GyroCalibPath: cfg.GyroCalibPath,
		RangeEnabled:  cfg.RangefinderEnabled,
		RangePort:     cfg.RangefinderSerialPort,
		RangeBaud:     uint(cfg.RangefinderBaudRate),
		RangePeriod:   cfg.RangefinderPeriod(),
	}
}

func identity(cfg *config.Config) telemetry.Identity {
	return telemetry.Identity{
		SystemID:    uint8(cfg.TelemetrySystemID),
		ComponentID: uint8(cfg.TelemetryComponentID),
		SensorID:    uint8(cfg.TelemetrySensorID),
	}
}

func closeAll(closers []io.Closer) error {
	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}
