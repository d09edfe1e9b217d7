package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/flowberry/internal/fault"
	"github.com/relabs-tech/flowberry/internal/imv"
	"github.com/relabs-tech/flowberry/internal/motion"
	"github.com/relabs-tech/flowberry/internal/sensors"
)

func TestFramesToSkip(t *testing.T) {
	delay := time.Second / 30
	cases := []struct {
		t    time.Duration
		want int
	}{
		{0, 0},
		{delay - time.Microsecond, 0},
		{delay, 1},
		{100 * time.Millisecond, 3},
		{time.Second, 30},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FramesToSkip(c.t, delay), "t=%v", c.t)
	}
	assert.Equal(t, 0, FramesToSkip(time.Second, 0))
}

type recordingSink struct {
	mu    sync.Mutex
	outs  []Output
	onPub func()
}

func (r *recordingSink) Publish(o Output) {
	r.mu.Lock()
	r.outs = append(r.outs, o)
	r.mu.Unlock()
	if r.onPub != nil {
		r.onPub()
	}
}

type fixedSensors struct{ snap sensors.Snapshot }

func (f fixedSensors) Read() sensors.Snapshot { return f.snap }

func newCalc() *motion.Calculator {
	return motion.NewCalculator(nil, motion.NewCompensator(motion.DefaultFocalConstant), motion.NewEstimator())
}

func translatedField(t *testing.T, g imv.Geometry, dx, dy int8) []byte {
	t.Helper()
	f := imv.NewField(g, 0)
	f.Each(func(i, j int, _ imv.Cell) { f.Set(i, j, imv.Cell{X: dx, Y: dy, SAD: 50}) })
	return f.Encode()
}

func TestPipelineProcessesQueuedFields(t *testing.T) {
	sink := &recordingSink{}
	p, err := New(Options{
		Width: 64, Height: 48, FPS: 30,
		Calculator: newCalc(),
		Sensors:    fixedSensors{sensors.Snapshot{DistanceMM: 900, Temperature: 33}},
		Sink:       sink,
	})
	require.NoError(t, err)

	for ts := int64(1); ts <= 3; ts++ {
		require.NoError(t, p.ProcessVectors(translatedField(t, p.Geometry(), 1, 2), ts*33333))
	}
	p.Stop()
	p.Run()

	require.Len(t, sink.outs, 3)
	out := sink.outs[2]
	assert.Equal(t, int64(99999), out.Timestamp)
	assert.Equal(t, 12, out.Stats.GoodCount)
	assert.Equal(t, 12, out.Motion.Correspondences)
	require.True(t, out.Motion.Transform.Valid)
	assert.InDelta(t, -1, out.Motion.Transform.TX, 1e-6)
	assert.InDelta(t, -2, out.Motion.Transform.TY, 1e-6)
	assert.Equal(t, 900, out.Sensors.DistanceMM)
	assert.Equal(t, int64(3), p.Stats().Processed)
}

func TestPipelineFailStopOnVectorMismatch(t *testing.T) {
	p, err := New(Options{Width: 32, Height: 32, FPS: 30, Calculator: newCalc()})
	require.NoError(t, err)

	err = p.ProcessVectors(make([]byte, 10), 1)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindFailStop))
	assert.False(t, p.Initialized())

	err = p.ProcessVectors(make([]byte, p.Geometry().VectorBufferSize()), 2)
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 0, p.Stats().PendingVectors)
}

func TestPipelineFrameIgnoredWithoutVisualization(t *testing.T) {
	p, err := New(Options{Width: 32, Height: 32, FPS: 30, Calculator: newCalc()})
	require.NoError(t, err)
	require.NoError(t, p.ProcessFrame(make([]byte, 3), 1))
	assert.True(t, p.Initialized())
	assert.Equal(t, 0, p.Stats().PendingFrames)
}

func TestPipelineFailStopOnFrameMismatch(t *testing.T) {
	p, err := New(Options{Width: 32, Height: 32, FPS: 30, Calculator: newCalc(), Visualize: true})
	require.NoError(t, err)
	err = p.ProcessFrame(make([]byte, 32*32-1), 1)
	assert.True(t, fault.Is(err, fault.KindFailStop))
	assert.False(t, p.Initialized())
}

func TestPipelineSkipsFramesWhenSlow(t *testing.T) {
	mock := clock.NewMock()
	sink := &recordingSink{}
	// each publication costs 70ms against a 33.3ms frame period
	sink.onPub = func() { mock.Add(70 * time.Millisecond) }

	p, err := New(Options{Width: 32, Height: 32, FPS: 30, Calculator: newCalc(), Sink: sink, Clock: mock})
	require.NoError(t, err)

	for ts := int64(1); ts <= 5; ts++ {
		require.NoError(t, p.ProcessVectors(translatedField(t, p.Geometry(), 1, 0), ts))
	}
	p.Stop()
	p.Run()

	st := p.Stats()
	assert.Equal(t, int64(2), st.Processed)
	assert.Equal(t, int64(3), st.Skipped)
	require.Len(t, sink.outs, 2)
	assert.Equal(t, int64(1), sink.outs[0].Timestamp)
	assert.Equal(t, int64(4), sink.outs[1].Timestamp)
}

type countingVisualizer struct {
	shown []int64
}

func (c *countingVisualizer) Show(frame *Frame, field *imv.Field, _ Output) {
	if frame.Timestamp == field.Timestamp() {
		c.shown = append(c.shown, frame.Timestamp)
	}
}

func TestPipelineVisualizesPairedFrames(t *testing.T) {
	vis := &countingVisualizer{}
	p, err := New(Options{Width: 32, Height: 32, FPS: 30, Calculator: newCalc(), Visualize: true, Visualizer: vis})
	require.NoError(t, err)

	frame := make([]byte, p.Geometry().FrameBufferSize())
	for ts := int64(1); ts <= 20; ts++ {
		require.NoError(t, p.ProcessVectors(translatedField(t, p.Geometry(), 0, 1), ts))
		require.NoError(t, p.ProcessFrame(frame, ts))
	}
	p.Stop()
	p.Run()

	assert.Equal(t, []int64{10, 20}, vis.shown)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{Width: 32, Height: 32, FPS: 0, Calculator: newCalc()})
	assert.True(t, fault.Is(err, fault.KindFatalInit))
	_, err = New(Options{Width: 0, Height: 32, FPS: 30, Calculator: newCalc()})
	assert.True(t, fault.Is(err, fault.KindFatalInit))
	_, err = New(Options{Width: 32, Height: 32, FPS: 30})
	assert.True(t, fault.Is(err, fault.KindFatalInit))
}
