// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pipeline schedules the per-frame work: it accepts raw vector and
// frame buffers from the capture side, runs statistics and motion
// estimation on a single worker, publishes the result and drops queued
// frames when a cycle overruns the frame period.
package pipeline

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/relabs-tech/flowberry/internal/fault"
	"github.com/relabs-tech/flowberry/internal/imv"
	"github.com/relabs-tech/flowberry/internal/motion"
	"github.com/relabs-tech/flowberry/internal/queue"
	"github.com/relabs-tech/flowberry/internal/sensors"
)

// visualizeEvery is how many cycles pass between visualizer updates.
const visualizeEvery = 10

// ErrStopped is returned by the ingestion calls once a size mismatch has
// stopped the pipeline.
var ErrStopped = fault.New(fault.KindFailStop, "pipeline", errors.New("stopped after buffer size mismatch"))

// Frame is one luma image buffer.
type Frame struct {
	Data      []byte
	Timestamp int64 // microseconds
}

// Output is everything known about one processed frame.
type Output struct {
	Timestamp int64 // capture timestamp, microseconds
	Stats     imv.Stats
	Motion    motion.Result
	Sensors   sensors.Snapshot
	Elapsed   time.Duration // processing time up to publication
}

// Sink receives one Output per processed frame.
type Sink interface {
	Publish(Output)
}

// SnapshotReader supplies the sensor view; *sensors.State implements it.
type SnapshotReader interface {
	Read() sensors.Snapshot
}

// Visualizer is handed a frame, its field and the result every few cycles
// when visualization is enabled.
type Visualizer interface {
	Show(frame *Frame, field *imv.Field, out Output)
}

// Options configures a Pipeline.
type Options struct {
	Width, Height int
	FPS           int
	Visualize     bool

	Calculator *motion.Calculator
	Sensors    SnapshotReader
	Sink       Sink
	Visualizer Visualizer
	Clock      clock.Clock
}

// Stats counts pipeline activity.
type Stats struct {
	Processed      int64
	Skipped        int64
	PendingVectors int
	PendingFrames  int
	Initialized    bool
}

// Pipeline is the scheduler. Ingestion is safe from any goroutine; Run
// executes on exactly one.
type Pipeline struct {
	geom       imv.Geometry
	frameDelay time.Duration
	visualize  bool

	calc       *motion.Calculator
	sensors    SnapshotReader
	sink       Sink
	visualizer Visualizer
	clock      clock.Clock

	vectors *queue.FIFO[*imv.Field]
	frames  *queue.FIFO[*Frame]

	initialized atomic.Bool
	processed   atomic.Int64
	skipped     atomic.Int64
}

// New validates opts and returns an initialized pipeline.
func New(opts Options) (*Pipeline, error) {
	geom, err := imv.NewGeometry(opts.Width, opts.Height)
	if err != nil {
		return nil, fault.New(fault.KindFatalInit, "pipeline", err)
	}
	if opts.FPS <= 0 {
		return nil, fault.Errorf(fault.KindFatalInit, "pipeline", "fps must be positive, got %d", opts.FPS)
	}
	if opts.Calculator == nil {
		return nil, fault.Errorf(fault.KindFatalInit, "pipeline", "no motion calculator")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	p := &Pipeline{
		geom:       geom,
		frameDelay: time.Second / time.Duration(opts.FPS),
		visualize:  opts.Visualize,
		calc:       opts.Calculator,
		sensors:    opts.Sensors,
		sink:       opts.Sink,
		visualizer: opts.Visualizer,
		clock:      opts.Clock,
		vectors:    queue.New[*imv.Field](),
		frames:     queue.New[*Frame](),
	}
	p.initialized.Store(true)
	log.Printf("pipeline: %dx%d (%dx%d blocks), %d fps, frame delay %v, visualize=%v",
		geom.Width, geom.Height, geom.MBX, geom.MBY, opts.FPS, p.frameDelay, opts.Visualize)
	return p, nil
}

// Geometry returns the macroblock geometry.
func (p *Pipeline) Geometry() imv.Geometry { return p.geom }

// FrameDelay returns the camera frame period.
func (p *Pipeline) FrameDelay() time.Duration { return p.frameDelay }

// Initialized reports whether ingestion is still accepted.
func (p *Pipeline) Initialized() bool { return p.initialized.Load() }

// ProcessVectors copies a raw vector buffer into the queue. A buffer of the
// wrong size stops the pipeline.
func (p *Pipeline) ProcessVectors(buf []byte, timestamp int64) error {
	if !p.initialized.Load() {
		return ErrStopped
	}
	field, err := imv.ParseField(p.geom, buf, timestamp)
	if err != nil {
		p.failStop(err)
		return err
	}
	p.vectors.Add(field)
	return nil
}

// ProcessFrame copies a luma frame into the queue. Frames are ignored unless
// visualization is enabled; a frame of the wrong size stops the pipeline.
func (p *Pipeline) ProcessFrame(buf []byte, timestamp int64) error {
	if !p.visualize {
		return nil
	}
	if !p.initialized.Load() {
		return ErrStopped
	}
	if want := p.geom.FrameBufferSize(); len(buf) != want {
		err := fault.Errorf(fault.KindFailStop, "pipeline frame", "frame buffer length %d, want %d", len(buf), want)
		p.failStop(err)
		return err
	}
	p.frames.Add(&Frame{Data: append([]byte(nil), buf...), Timestamp: timestamp})
	return nil
}

func (p *Pipeline) failStop(err error) {
	if p.initialized.CompareAndSwap(true, false) {
		log.Printf("pipeline: %v; processing stopped", err)
	}
}

// Run processes queued buffers until Stop is called.
func (p *Pipeline) Run() {
	for n := 1; p.cycle(n); n++ {
	}
	log.Printf("pipeline: stopped after %d frames (%d skipped)", p.processed.Load(), p.skipped.Load())
}

// Stop closes the queues; Run returns once it has drained them.
func (p *Pipeline) Stop() {
	p.vectors.Close()
	p.frames.Close()
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed:      p.processed.Load(),
		Skipped:        p.skipped.Load(),
		PendingVectors: p.vectors.Len(),
		PendingFrames:  p.frames.Len(),
		Initialized:    p.initialized.Load(),
	}
}

// cycle runs WAIT, STATS, COMPENSATE, ESTIMATE, PUBLISH and PACE once. It
// returns false when the queues are closed.
func (p *Pipeline) cycle(n int) bool {
	field, ok := p.vectors.Remove()
	if !ok {
		return false
	}
	var frame *Frame
	if p.visualize {
		if frame, ok = p.frames.Remove(); !ok {
			return false
		}
	}

	t1 := p.clock.Now()
	out := Output{Timestamp: field.Timestamp(), Stats: field.Stats()}
	if p.sensors != nil {
		out.Sensors = p.sensors.Read()
	}
	out.Motion = p.calc.Calculate(field, out.Sensors.GyroX, out.Sensors.GyroY, p.clock.Now())
	out.Elapsed = p.clock.Since(t1)
	if p.sink != nil {
		p.sink.Publish(out)
	}
	if p.visualize && p.visualizer != nil && n%visualizeEvery == 0 {
		p.visualizer.Show(frame, field, out)
	}
	p.processed.Inc()

	if skip := FramesToSkip(p.clock.Since(t1), p.frameDelay); skip > 0 {
		dropped := p.vectors.DropUpTo(skip)
		if p.visualize {
			p.frames.DropUpTo(skip)
		}
		p.skipped.Add(int64(dropped))
		if dropped > 0 {
			log.Printf("pipeline: cycle took %v, skipped %d of %d frames", p.clock.Since(t1), dropped, skip)
		}
	}
	return true
}

func (s Stats) String() string {
	return fmt.Sprintf("processed=%d skipped=%d pending=%d/%d initialized=%v",
		s.Processed, s.Skipped, s.PendingVectors, s.PendingFrames, s.Initialized)
}
