package monitor

import (
	"image"
	"image/color"

	"github.com/relabs-tech/flowberry/internal/imv"
	"github.com/relabs-tech/flowberry/internal/pipeline"
)

// Render copies the luma plane into a gray image and draws each moving
// block's vector from its centre. It returns nil when the frame does not
// match the field geometry.
func Render(frame *pipeline.Frame, field *imv.Field) *image.Gray {
	if frame == nil || field == nil {
		return nil
	}
	g := field.Geometry()
	if len(frame.Data) != g.FrameBufferSize() {
		return nil
	}
	img := image.NewGray(image.Rect(0, 0, g.Width, g.Height))
	copy(img.Pix, frame.Data)

	field.Each(func(i, j int, c imv.Cell) {
		if !c.HasMotion() {
			return
		}
		x0 := i*imv.BlockSize + imv.BlockSize/2
		y0 := j*imv.BlockSize + imv.BlockSize/2
		drawLine(img, x0, y0, x0+int(c.X), y0+int(c.Y), color.Gray{Y: 255})
	})
	return img
}

// drawLine is Bresenham's algorithm clipped to the image bounds.
func drawLine(img *image.Gray, x0, y0, x1, y1 int, c color.Gray) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		if (image.Point{X: x0, Y: y0}).In(img.Rect) {
			img.SetGray(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
