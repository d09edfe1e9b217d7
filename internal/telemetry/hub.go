package telemetry

import (
	"sync"

	"github.com/relabs-tech/flowberry/internal/pipeline"
)

// Publisher consumes flow samples.
type Publisher interface {
	PublishFlow(FlowSample)
}

// Hub is the pipeline sink: it converts each output and fans the sample out
// to every registered publisher in order.
type Hub struct {
	conv *Converter

	mu     sync.RWMutex
	pubs   []Publisher
	latest FlowSample
	count  int64
}

// NewHub returns a Hub.
func NewHub(conv *Converter, pubs ...Publisher) *Hub {
	return &Hub{conv: conv, pubs: pubs}
}

// Add registers another publisher.
func (h *Hub) Add(p Publisher) {
	h.mu.Lock()
	h.pubs = append(h.pubs, p)
	h.mu.Unlock()
}

// Publish implements pipeline.Sink.
func (h *Hub) Publish(out pipeline.Output) {
	sample, ok := h.conv.Convert(out)
	if !ok {
		return
	}
	h.mu.Lock()
	h.latest = sample
	h.count++
	pubs := append([]Publisher(nil), h.pubs...)
	h.mu.Unlock()

	for _, p := range pubs {
		p.PublishFlow(sample)
	}
}

// Latest returns the most recent sample and how many were published.
func (h *Hub) Latest() (FlowSample, int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.count
}
