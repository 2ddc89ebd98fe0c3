// Package overlay draws action target markers on recorded frames.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// MarkerRadius is the ring radius in pixels
const MarkerRadius = 15

// Kind selects the marker style
type Kind int

const (
	KindClick Kind = iota
	KindInput
)

// Mark is one action target on a frame
type Mark struct {
	X, Y    int
	Kind    Kind
	Success bool
}

var (
	clickColor   = color.RGBA{66, 133, 244, 255} // blue
	inputColor   = color.RGBA{52, 168, 83, 255}  // green
	failureColor = color.RGBA{234, 67, 53, 255}  // red
)

// Colors lists the marker colors so encoders can keep them in their palette
func Colors() []color.Color {
	return []color.Color{clickColor, inputColor, failureColor}
}

// Apply returns a copy of frame with marks drawn on it. frame is not modified.
func Apply(frame image.Image, marks []Mark) image.Image {
	bounds := frame.Bounds()
	result := image.NewRGBA(bounds)
	draw.Draw(result, bounds, frame, bounds.Min, draw.Src)

	for _, m := range marks {
		drawMark(result, m)
	}
	return result
}

func drawMark(img *image.RGBA, m Mark) {
	c := clickColor
	if m.Kind == KindInput {
		c = inputColor
	}
	if !m.Success {
		c = failureColor
	}

	drawRing(img, m.X, m.Y, MarkerRadius, 2, c)
	if m.Success {
		setPixelSafe(img, m.X, m.Y, c)
		return
	}

	// Failed targets get a cross inside the ring.
	d := MarkerRadius / 2
	drawLine(img, m.X-d, m.Y-d, m.X+d, m.Y+d, c)
	drawLine(img, m.X-d, m.Y+d, m.X+d, m.Y-d, c)
}

// drawRing draws a circle outline thickness pixels wide
func drawRing(img *image.RGBA, x, y, radius, thickness int, c color.RGBA) {
	for t := 0; t < thickness; t++ {
		r := float64(radius - t)
		for angle := 0.0; angle < 360; angle++ {
			rad := angle * math.Pi / 180
			px := x + int(math.Round(r*math.Cos(rad)))
			py := y + int(math.Round(r*math.Sin(rad)))
			setPixelSafe(img, px, py, c)
		}
	}
}

// drawLine draws a line between two points using Bresenham's algorithm
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)
	sx := 1
	if x1 > x2 {
		sx = -1
	}
	sy := 1
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy

	for {
		setPixelSafe(img, x1, y1, c)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func setPixelSafe(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
