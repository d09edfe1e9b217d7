package sensors

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestStateOverrunsConsumedOnRead(t *testing.T) {
	s := NewState()
	s.SetGyro(GyroReading{RateX: 1, Overrun: true})
	s.SetGyro(GyroReading{RateX: 2, Overrun: true})
	s.SetGyro(GyroReading{RateX: 3, Temperature: 30})
	s.SetDistance(1500)

	snap := s.Read()
	assert.Equal(t, Snapshot{GyroX: 3, Temperature: 30, Overruns: 2, DistanceMM: 1500}, snap)
	again := s.Read()
	assert.Equal(t, 0, again.Overruns)
	assert.Equal(t, 3.0, again.GyroX)
}

func TestSleepFor(t *testing.T) {
	assert.Equal(t, 7*time.Millisecond, sleepFor(10*time.Millisecond, 3*time.Millisecond))
	assert.Equal(t, minSleep, sleepFor(10*time.Millisecond, 10*time.Millisecond))
	assert.Equal(t, minSleep, sleepFor(10*time.Millisecond, 25*time.Millisecond))
}

type fakeGyro struct {
	mu       sync.Mutex
	reads    int
	fail     bool
	closed   bool
	closeErr error
	value    GyroReading
}

func (f *fakeGyro) Read(bool) (GyroReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.fail {
		return GyroReading{RateX: 99}, errors.New("bus error")
	}
	return f.value, nil
}

func (f *fakeGyro) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

// blockingRange parks every Read until release is closed.
type blockingRange struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	closed  atomic.Bool
}

func newBlockingRange() *blockingRange {
	return &blockingRange{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingRange) Read() (int, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return 0, errors.New("port closed")
}

func (b *blockingRange) Close() error { b.closed.Store(true); return nil }

type fakeRange struct {
	mm     int
	err    error
	closed bool
}

func (f *fakeRange) Read() (int, error) { return f.mm, f.err }
func (f *fakeRange) Close() error       { f.closed = true; return nil }

func TestSamplerStepsOnMockClock(t *testing.T) {
	mock := clock.NewMock()
	steps := make(chan struct{}, 1)
	exited := false
	step := func() {
		select {
		case steps <- struct{}{}:
		default:
		}
	}
	s := NewSampler("test", 10*time.Millisecond, mock, step, func() { exited = true })

	s.Start()
	<-steps
	require.Eventually(t, func() bool {
		mock.Add(time.Millisecond)
		select {
		case <-steps:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopped:
				return
			default:
				mock.Add(10 * time.Millisecond)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	s.Stop()
	require.True(t, s.Wait(time.Second))
	close(stopped)

	assert.True(t, exited)
	assert.False(t, s.Running())
	assert.GreaterOrEqual(t, s.Cycles(), int64(2))
}

func TestSensorsSampling(t *testing.T) {
	gyro := &fakeGyro{value: GyroReading{RateX: 2, RateY: 4, RateZ: 6, Temperature: 31}}
	rng := &fakeRange{mm: 1234}
	s := New(gyro, rng, GyroOffsets{X: 1, Y: 1, Z: 1}, Options{
		GyroPeriod:  time.Millisecond,
		RangePeriod: time.Millisecond,
	})

	s.Start()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = s.State().Read()
		return snap.DistanceMM == 1234 && snap.GyroX == 1
	}, time.Second, time.Millisecond)
	s.Stop()
	require.True(t, s.Wait(time.Second))

	assert.Equal(t, 3.0, snap.GyroY)
	assert.Equal(t, 5.0, snap.GyroZ)
	assert.Equal(t, 31, snap.Temperature)
	assert.True(t, gyro.closed)
	assert.True(t, rng.closed)
}

func TestSensorsReadFailurePublishesZero(t *testing.T) {
	gyro := &fakeGyro{fail: true}
	s := New(gyro, nil, GyroOffsets{X: 5}, Options{GyroPeriod: time.Millisecond})
	s.State().SetGyro(GyroReading{RateX: 42})

	s.sampleGyro()
	assert.Equal(t, Snapshot{}, s.State().Read())
}

func TestSensorsCloseWithoutStart(t *testing.T) {
	gyro := &fakeGyro{}
	rng := &fakeRange{}
	s := New(gyro, rng, GyroOffsets{}, Options{})
	require.NoError(t, s.Close())
	assert.True(t, gyro.closed)
	assert.True(t, rng.closed)
}

func TestSamplerStopDoesNotWaitForStuckStep(t *testing.T) {
	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	exited := atomic.NewBool(false)
	step := func() {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-block
	}
	s := NewSampler("stuck", time.Millisecond, clock.New(), step, func() { exited.Store(true) })
	s.Start()
	<-entered

	returned := make(chan struct{})
	go func() {
		s.Stop()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a stuck step")
	}
	assert.False(t, s.Running())
	assert.False(t, s.Wait(10*time.Millisecond))
	assert.False(t, exited.Load())

	close(block)
	require.True(t, s.Wait(time.Second))
	assert.True(t, exited.Load())
}

func TestSamplerStartsOnce(t *testing.T) {
	s := NewSampler("once", time.Millisecond, clock.New(), func() {}, nil)
	assert.True(t, s.Wait(0))
	s.Start()
	s.Stop()
	require.True(t, s.Wait(time.Second))
	s.Start()
	assert.False(t, s.Running())
}

func TestSensorsCloseWithStuckRangefinder(t *testing.T) {
	gyro := &fakeGyro{}
	rng := newBlockingRange()
	s := New(gyro, rng, GyroOffsets{}, Options{GyroPeriod: time.Millisecond, RangePeriod: time.Millisecond})
	s.Start()
	<-rng.entered

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a stuck rangefinder read")
	}
	assert.False(t, s.Wait(10*time.Millisecond))
	assert.False(t, rng.closed.Load())

	close(rng.release)
	require.True(t, s.Wait(time.Second))
	assert.True(t, rng.closed.Load())
	assert.True(t, gyro.closed)
}

func TestOpenClosesGyroWhenRangefinderFails(t *testing.T) {
	gyro := &fakeGyro{closeErr: errors.New("i2c busy")}
	origGyro, origRange := openGyro, openRange
	t.Cleanup(func() { openGyro, openRange = origGyro, origRange })
	openGyro = func(string, uint16, *L3GD20HOpts) (GyroDriver, error) { return gyro, nil }
	openRange = func(string, uint) (RangeDriver, error) { return nil, errors.New("no such port") }

	_, err := Open(Options{GyroBus: "1", GyroAddr: 0x6b, RangeEnabled: true, RangePort: "/dev/ttyAMA0"})
	require.Error(t, err)
	assert.True(t, gyro.closed)
	assert.Contains(t, err.Error(), "no such port")
	assert.Contains(t, err.Error(), "i2c busy")
}
