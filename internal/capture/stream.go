// Package capture feeds raw camera buffers into the pipeline. The capture
// engine itself runs outside this process and writes fixed-size buffers to a
// stream, usually a named pipe.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/relabs-tech/flowberry/internal/imv"
)

// IngestFunc hands one buffer and its capture timestamp in microseconds to
// the pipeline.
type IngestFunc func(buf []byte, timestamp int64) error

// Epoch is the shared origin of the capture timestamps.
type Epoch struct {
	clock clock.Clock
	start time.Time
}

// NewEpoch starts counting now. clk may be nil for the wall clock.
func NewEpoch(clk clock.Clock) *Epoch {
	if clk == nil {
		clk = clock.New()
	}
	return &Epoch{clock: clk, start: clk.Now()}
}

// Micros returns the microseconds elapsed since the epoch.
func (e *Epoch) Micros() int64 { return e.clock.Since(e.start).Microseconds() }

// StreamReader reads fixed-size buffers from r and ingests each one.
type StreamReader struct {
	name   string
	r      io.Reader
	size   int
	ingest IngestFunc
	epoch  *Epoch

	buffers atomic.Int64
}

// NewStreamReader reads size-byte buffers.
func NewStreamReader(name string, r io.Reader, size int, ingest IngestFunc, epoch *Epoch) *StreamReader {
	if epoch == nil {
		epoch = NewEpoch(nil)
	}
	return &StreamReader{name: name, r: r, size: size, ingest: ingest, epoch: epoch}
}

// NewVectorReader reads vector buffers sized for geom.
func NewVectorReader(r io.Reader, geom imv.Geometry, ingest IngestFunc, epoch *Epoch) *StreamReader {
	return NewStreamReader("vectors", r, geom.VectorBufferSize(), ingest, epoch)
}

// NewFrameReader reads luma frames sized for geom.
func NewFrameReader(r io.Reader, geom imv.Geometry, ingest IngestFunc, epoch *Epoch) *StreamReader {
	return NewStreamReader("frames", r, geom.FrameBufferSize(), ingest, epoch)
}

// OpenFile opens a capture stream by path.
func OpenFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	return f, nil
}

// Buffers returns the number of buffers ingested.
func (s *StreamReader) Buffers() int64 { return s.buffers.Load() }

// Run reads until the stream ends, ctx is cancelled or the pipeline refuses
// a buffer. A clean end of stream returns nil.
func (s *StreamReader) Run(ctx context.Context) error {
	buf := make([]byte, s.size)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_, err := io.ReadFull(s.r, buf)
		if errors.Is(err, io.EOF) {
			log.Printf("capture: %s stream ended after %d buffers", s.name, s.buffers.Load())
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			log.Printf("capture: WARNING: %s stream ended mid-buffer after %d buffers", s.name, s.buffers.Load())
			return nil
		}
		if err != nil {
			return fmt.Errorf("capture: read %s: %w", s.name, err)
		}
		if err := s.ingest(buf, s.epoch.Micros()); err != nil {
			return fmt.Errorf("capture: %s: %w", s.name, err)
		}
		s.buffers.Inc()
	}
}
