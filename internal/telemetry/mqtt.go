package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/atomic"

	"github.com/relabs-tech/flowberry/internal/queue"
)

const (
	mqttPublishTimeout = 2 * time.Second
	mqttMaxBacklog     = 64
	mqttQuiesceMs      = 250
)

// MQTTPublisher mirrors flow samples as JSON on an MQTT topic. Samples are
// queued by the pipeline and published by a single send goroutine; when the
// broker falls behind the oldest queued samples are dropped.
type MQTTPublisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration

	out *queue.FIFO[FlowSample]
	wg  sync.WaitGroup

	dropped atomic.Int64
}

// NewMQTTPublisher connects to broker.
func NewMQTTPublisher(broker, clientID, topic string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry: MQTT connect to %s: %w", broker, token.Error())
	}
	log.Printf("telemetry: connected to MQTT broker at %s, publishing on %s", broker, topic)
	return NewMQTTPublisherWithClient(client, topic), nil
}

// NewMQTTPublisherWithClient uses an already connected client.
func NewMQTTPublisherWithClient(client mqtt.Client, topic string) *MQTTPublisher {
	return newMQTTPublisher(client, topic, mqttPublishTimeout)
}

func newMQTTPublisher(client mqtt.Client, topic string, timeout time.Duration) *MQTTPublisher {
	m := &MQTTPublisher{
		client:  client,
		topic:   topic,
		timeout: timeout,
		out:     queue.New[FlowSample](),
	}
	m.wg.Add(1)
	go m.sendLoop()
	return m
}

// PublishFlow queues sample for publishing at QoS 0. It never waits on the
// broker.
func (m *MQTTPublisher) PublishFlow(sample FlowSample) {
	if over := m.out.Len() - mqttMaxBacklog + 1; over > 0 {
		m.dropped.Add(int64(m.out.DropUpTo(over)))
	}
	m.out.Add(sample)
}

// Dropped returns how many samples were discarded because the broker was
// not keeping up.
func (m *MQTTPublisher) Dropped() int64 { return m.dropped.Load() }

func (m *MQTTPublisher) sendLoop() {
	defer m.wg.Done()
	for {
		sample, ok := m.out.Remove()
		if !ok {
			return
		}
		m.publish(sample)
	}
}

func (m *MQTTPublisher) publish(sample FlowSample) {
	payload, err := json.Marshal(sample)
	if err != nil {
		log.Printf("telemetry: marshal flow sample: %v", err)
		return
	}
	token := m.client.Publish(m.topic, 0, false, payload)
	if !token.WaitTimeout(m.timeout) {
		log.Printf("telemetry: MQTT publish timed out after %v", m.timeout)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("telemetry: MQTT publish error: %v", err)
	}
}

// Close discards queued samples, waits for the publish in flight and
// disconnects from the broker.
func (m *MQTTPublisher) Close() error {
	m.dropped.Add(int64(m.out.DropUpTo(m.out.Len())))
	m.out.Close()
	m.wg.Wait()
	if n := m.dropped.Load(); n > 0 {
		log.Printf("telemetry: %d MQTT samples dropped", n)
	}
	m.client.Disconnect(mqttQuiesceMs)
	return nil
}
