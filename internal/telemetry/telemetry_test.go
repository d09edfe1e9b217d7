package telemetry

import (
	"encoding/json"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/flowberry/internal/motion"
	"github.com/relabs-tech/flowberry/internal/pipeline"
	"github.com/relabs-tech/flowberry/internal/sensors"
)

func TestQuality(t *testing.T) {
	assert.Equal(t, uint8(127), Quality(10, 20))
	assert.Equal(t, uint8(204), Quality(8, 10))
	assert.Equal(t, uint8(255), Quality(20, 20))
	assert.Equal(t, uint8(0), Quality(0, 5))
	assert.Equal(t, uint8(0), Quality(5, 0))
}

func sampleOutput() pipeline.Output {
	return pipeline.Output{
		Timestamp: 123456,
		Motion: motion.Result{
			Correspondences: 10,
			Transform:       motion.Similarity{A: 1, TX: 2.5, TY: -1, Inliers: 8, Valid: true},
		},
		Sensors: sensors.Snapshot{GyroX: 10, GyroY: -5, Temperature: 30, DistanceMM: 2000, Overruns: 1},
		Elapsed: 4 * time.Millisecond,
	}
}

func TestConverterFirstSamplePrimes(t *testing.T) {
	mock := clock.NewMock()
	conv := NewConverter(DefaultPixelToMeter, mock)
	_, ok := conv.Convert(sampleOutput())
	assert.False(t, ok)

	mock.Add(100 * time.Millisecond)
	s, ok := conv.Convert(sampleOutput())
	require.True(t, ok)

	assert.Equal(t, uint32(100000), s.IntegrationUs)
	assert.Equal(t, int64(4000), s.ProcessingUs)
	assert.Equal(t, uint8(204), s.Quality)
	assert.Equal(t, int16(25), s.FlowXDeciPx)
	assert.Equal(t, int16(-10), s.FlowYDeciPx)
	assert.InDelta(t, 0.00475, s.FlowXRad, 1e-12)
	assert.InDelta(t, 0.095, s.FlowXMS, 1e-9)
	assert.InDelta(t, -0.038, s.FlowYMS, 1e-9)
	assert.InDelta(t, 10*math.Pi/180*0.1, s.GyroXRad, 1e-12)
	assert.InDelta(t, 0, s.GyroZRad, 1e-12)
	assert.Equal(t, 2.0, s.GroundDistanceM)
	assert.Equal(t, int16(3000), s.TemperatureCdeg)
	assert.Equal(t, 1, s.Overruns)
	assert.Equal(t, uint64(mock.Now().UnixMicro()), s.TimeUsec)
}

func TestConverterInvalidTransform(t *testing.T) {
	mock := clock.NewMock()
	conv := NewConverter(DefaultPixelToMeter, mock)
	out := sampleOutput()
	out.Motion.Transform = motion.Invalid
	conv.Convert(out)
	mock.Add(time.Second)

	s, ok := conv.Convert(out)
	require.True(t, ok)
	assert.False(t, s.Valid)
	assert.Zero(t, s.Quality)
	assert.Zero(t, s.DxPx)
	assert.Zero(t, s.FlowXMS)
}

func TestFlowMessages(t *testing.T) {
	s := FlowSample{TimeUsec: 7, IntegrationUs: 33000, FlowXDeciPx: 12, Quality: 200, GroundDistanceM: 1.5, TemperatureCdeg: 2500}
	msgs := DefaultIdentity.FlowMessages(s)
	require.Len(t, msgs, 2)

	assert.Equal(t, "OPTICAL_FLOW", msgs[0].Name)
	flow := msgs[0].Payload.(OpticalFlow)
	assert.Equal(t, uint8(68), flow.SensorID)
	assert.Equal(t, int16(12), flow.FlowX)
	assert.Equal(t, float32(1.5), flow.GroundDistance)

	assert.Equal(t, "OPTICAL_FLOW_RAD", msgs[1].Name)
	rad := msgs[1].Payload.(OpticalFlowRad)
	assert.Equal(t, uint32(33000), rad.IntegrationTimeUs)
	assert.Equal(t, int16(2500), rad.Temperature)
	assert.Equal(t, uint8(1), msgs[1].SystemID)
	assert.Equal(t, uint8(42), msgs[1].ComponentID)

	hb := DefaultIdentity.HeartbeatMessage()
	assert.Equal(t, "HEARTBEAT", hb.Name)
	assert.Equal(t, Heartbeat{Type: 0, Autopilot: 8, SystemStatus: 4}, hb.Payload)
}

func TestUDPSenderDelivers(t *testing.T) {
	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer ln.Close()

	sender, err := NewUDPSender(ln.LocalAddr().String(), DefaultIdentity, time.Hour, clock.NewMock())
	require.NoError(t, err)
	sender.Start()
	sender.PublishFlow(FlowSample{TimeUsec: 1, Quality: 10})

	names := map[string]bool{}
	buf := make([]byte, 2048)
	require.NoError(t, ln.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(names) < 3 {
		n, err := ln.Read(buf)
		require.NoError(t, err)
		var m struct {
			Name string `json:"msg"`
		}
		require.NoError(t, json.Unmarshal(buf[:n], &m))
		names[m.Name] = true
	}
	assert.Equal(t, map[string]bool{"HEARTBEAT": true, "OPTICAL_FLOW": true, "OPTICAL_FLOW_RAD": true}, names)

	require.NoError(t, sender.Close())
	sent, failed := sender.Sent()
	assert.GreaterOrEqual(t, sent, int64(3))
	assert.Zero(t, failed)
}

func TestNewUDPSenderBadAddr(t *testing.T) {
	_, err := NewUDPSender("not-an-addr", DefaultIdentity, time.Second, nil)
	assert.Error(t, err)
}

type collectingPublisher struct {
	mu      sync.Mutex
	samples []FlowSample
}

func (c *collectingPublisher) PublishFlow(s FlowSample) {
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
}

func TestHubFansOut(t *testing.T) {
	mock := clock.NewMock()
	a, b := &collectingPublisher{}, &collectingPublisher{}
	hub := NewHub(NewConverter(DefaultPixelToMeter, mock), a)
	hub.Add(b)

	hub.Publish(sampleOutput())
	_, n := hub.Latest()
	assert.Zero(t, n, "first output only primes the converter")

	mock.Add(50 * time.Millisecond)
	hub.Publish(sampleOutput())
	latest, n := hub.Latest()
	assert.Equal(t, int64(1), n)
	assert.Equal(t, uint32(50000), latest.IntegrationUs)
	require.Len(t, a.samples, 1)
	require.Len(t, b.samples, 1)
	assert.Equal(t, a.samples[0], b.samples[0])
}

type doneToken struct{ mqtt.Token }

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }

// stalledToken completes only when release is closed.
type stalledToken struct {
	mqtt.Token
	release chan struct{}
}

func (s stalledToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-s.release:
		return true
	case <-time.After(d):
		return false
	}
}

type fakeMQTT struct {
	mqtt.Client
	stall chan struct{}

	mu           sync.Mutex
	topic        string
	payloads     [][]byte
	disconnected bool
}

func (f *fakeMQTT) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic = topic
	f.payloads = append(f.payloads, payload.([]byte))
	if f.stall != nil {
		return stalledToken{release: f.stall}
	}
	return doneToken{}
}

func (f *fakeMQTT) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeMQTT) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func TestMQTTPublisher(t *testing.T) {
	client := &fakeMQTT{}
	pub := NewMQTTPublisherWithClient(client, "flowberry/flow")
	pub.PublishFlow(FlowSample{Quality: 99, DxPx: 1.5, Valid: true})
	require.Eventually(t, func() bool { return client.published() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, pub.Close())

	assert.True(t, client.disconnected)
	assert.Equal(t, "flowberry/flow", client.topic)
	var got FlowSample
	require.NoError(t, json.Unmarshal(client.payloads[0], &got))
	assert.Equal(t, uint8(99), got.Quality)
	assert.Equal(t, 1.5, got.DxPx)
	assert.Zero(t, pub.Dropped())
}

func TestMQTTPublisherDoesNotWaitOnStalledBroker(t *testing.T) {
	client := &fakeMQTT{stall: make(chan struct{})}
	defer close(client.stall)
	pub := newMQTTPublisher(client, "flowberry/flow", 200*time.Millisecond)

	start := time.Now()
	for i := range 3 * mqttMaxBacklog {
		pub.PublishFlow(FlowSample{Quality: uint8(i)})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "publishing must not wait on the broker")
	assert.Positive(t, pub.Dropped())
	assert.LessOrEqual(t, pub.out.Len(), mqttMaxBacklog)

	require.NoError(t, pub.Close())
	assert.True(t, client.disconnected)
	assert.LessOrEqual(t, client.published(), 3)
}
