package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/relabs-tech/flowberry/internal/queue"
)

// DefaultUDPAddr is the ground station listening for the sensor.
const DefaultUDPAddr = "192.168.42.42:14550"

// UDPSender ships records as datagrams. Records are queued by the pipeline
// and by the heartbeat loop and written by a single send goroutine.
type UDPSender struct {
	conn      *net.UDPConn
	id        Identity
	heartbeat time.Duration
	clock     clock.Clock

	out  *queue.FIFO[Message]
	stop chan struct{}
	wg   sync.WaitGroup

	sent   atomic.Int64
	failed atomic.Int64
}

// NewUDPSender resolves addr and opens the socket.
func NewUDPSender(addr string, id Identity, heartbeat time.Duration, clk clock.Clock) (*UDPSender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("telemetry: dial %s: %w", addr, err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &UDPSender{
		conn:      conn,
		id:        id,
		heartbeat: heartbeat,
		clock:     clk,
		out:       queue.New[Message](),
		stop:      make(chan struct{}),
	}, nil
}

// Start launches the send and heartbeat goroutines.
func (s *UDPSender) Start() {
	log.Printf("telemetry: sending to %s (heartbeat %v)", s.conn.RemoteAddr(), s.heartbeat)
	s.wg.Add(2)
	go s.sendLoop()
	go s.heartbeatLoop()
}

// PublishFlow queues the two flow records for sample.
func (s *UDPSender) PublishFlow(sample FlowSample) {
	for _, m := range s.id.FlowMessages(sample) {
		s.out.Add(m)
	}
}

// Sent returns the number of datagrams written and failed.
func (s *UDPSender) Sent() (sent, failed int64) {
	return s.sent.Load(), s.failed.Load()
}

// Close stops the loops, flushes queued records and closes the socket.
func (s *UDPSender) Close() error {
	close(s.stop)
	s.out.Close()
	s.wg.Wait()
	return s.conn.Close()
}

func (s *UDPSender) sendLoop() {
	defer s.wg.Done()
	for {
		m, ok := s.out.Remove()
		if !ok {
			return
		}
		payload, err := json.Marshal(m)
		if err != nil {
			log.Printf("telemetry: encode %s: %v", m.Name, err)
			s.failed.Inc()
			continue
		}
		if _, err := s.conn.Write(payload); err != nil {
			log.Printf("telemetry: unable to send %s: %v", m.Name, err)
			s.failed.Inc()
			continue
		}
		s.sent.Inc()
	}
}

func (s *UDPSender) heartbeatLoop() {
	defer s.wg.Done()
	ticker := s.clock.Ticker(s.heartbeat)
	defer ticker.Stop()
	for {
		s.out.Add(s.id.HeartbeatMessage())
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}
