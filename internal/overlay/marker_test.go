package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func blank(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	return img
}

func TestApply_DrawsRing(t *testing.T) {
	frame := blank(100, 100)
	out := Apply(frame, []Mark{{X: 50, Y: 50, Kind: KindClick, Success: true}}).(*image.RGBA)

	assert.Equal(t, clickColor, out.RGBAAt(50+MarkerRadius, 50))
	assert.Equal(t, clickColor, out.RGBAAt(50, 50-MarkerRadius))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(50+5, 50), "ring interior untouched")
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, frame.RGBAAt(50+MarkerRadius, 50), "input frame is not modified")
}

func TestApply_Styles(t *testing.T) {
	out := Apply(blank(100, 100), []Mark{{X: 50, Y: 50, Kind: KindInput, Success: true}}).(*image.RGBA)
	assert.Equal(t, inputColor, out.RGBAAt(50+MarkerRadius, 50))

	out = Apply(blank(100, 100), []Mark{{X: 50, Y: 50, Kind: KindClick, Success: false}}).(*image.RGBA)
	assert.Equal(t, failureColor, out.RGBAAt(50+MarkerRadius, 50))
	assert.Equal(t, failureColor, out.RGBAAt(50, 50), "cross passes through the center")
}

func TestApply_ClipsAtEdges(t *testing.T) {
	assert.NotPanics(t, func() {
		Apply(blank(10, 10), []Mark{{X: 0, Y: 0}, {X: 9, Y: 9, Success: true}, {X: -50, Y: 500}})
	})
}

func TestApply_NoMarks(t *testing.T) {
	frame := blank(4, 4)
	out := Apply(frame, nil)
	assert.Equal(t, frame.Bounds(), out.Bounds())
}
