// Package display drives the optional SSD1306 OLED status panel.
package display

import (
	"context"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/flowberry/internal/telemetry"
)

const (
	width  = 128
	height = 64
)

// Screen is the part of ssd1306.Dev the panel needs.
type Screen interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// Panel keeps the latest sample and redraws the screen periodically.
type Panel struct {
	screen Screen
	period time.Duration
	clock  clock.Clock
	closer func() error

	mu      sync.Mutex
	latest  telemetry.FlowSample
	samples int64
}

// Open initializes the host, opens busName and the display at addr.
func Open(busName string, addr uint16, period time.Duration) (*Panel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("display: failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("display: failed to open I2C bus %s: %w", busName, err)
	}
	dev, err := NewI2C(bus, addr)
	if err != nil {
		bus.Close()
		return nil, err
	}
	p := New(dev, period, nil)
	p.closer = bus.Close
	log.Printf("display: initialized at 0x%02X on %s", addr, busName)
	return p, nil
}

// NewI2C opens the SSD1306 at addr on bus.
func NewI2C(bus i2c.Bus, addr uint16) (*ssd1306.Dev, error) {
	dev, err := ssd1306.NewI2C(bus, addr, &ssd1306.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("display: failed to initialize display: %w", err)
	}
	return dev, nil
}

// New wraps screen. clk may be nil for the wall clock.
func New(screen Screen, period time.Duration, clk clock.Clock) *Panel {
	if clk == nil {
		clk = clock.New()
	}
	return &Panel{screen: screen, period: period, clock: clk}
}

// PublishFlow records sample for the next redraw.
func (p *Panel) PublishFlow(sample telemetry.FlowSample) {
	p.mu.Lock()
	p.latest = sample
	p.samples++
	p.mu.Unlock()
}

// Run shows the splash screen and then redraws every period until ctx ends.
func (p *Panel) Run(ctx context.Context) error {
	if err := p.screen.Draw(p.screen.Bounds(), Splash(), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	ticker := p.clock.Ticker(p.period)
	defer ticker.Stop()
	log.Println("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Update(); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		}
	}
}

// Update draws the current status once.
func (p *Panel) Update() error {
	p.mu.Lock()
	sample, n := p.latest, p.samples
	p.mu.Unlock()
	return p.screen.Draw(p.screen.Bounds(), Status(sample, n), image.Point{})
}

// Close releases the bus when the panel owns it.
func (p *Panel) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, width, height))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

// Splash is shown until the first redraw.
func Splash() *image1bit.VerticalLSB {
	img, drawer := newCanvas()
	drawer.Dot = fixed.P(25, 26)
	drawer.DrawString("flowberry")
	drawer.Dot = fixed.P(10, 43)
	drawer.DrawString("optical flow")
	return img
}

// Status renders a sample, or a waiting message when n is zero.
func Status(s telemetry.FlowSample, n int64) *image1bit.VerticalLSB {
	img, drawer := newCanvas()
	if n == 0 {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawString("Optical flow")
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawString("Waiting...")
		return img
	}

	lines := []string{
		fmt.Sprintf("Q:%3d  V:%d/%d", s.Quality, s.Inliers, s.Correspondences),
		fmt.Sprintf("dx:%6.2f dy:%6.2f", s.DxPx, s.DyPx),
		fmt.Sprintf("D: %5.2fm", s.GroundDistanceM),
		fmt.Sprintf("N: %d", n),
	}
	if !s.Valid {
		lines[1] = "no estimate"
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawString(line)
	}
	return img
}
