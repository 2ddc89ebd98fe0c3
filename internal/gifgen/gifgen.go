package gifgen

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"sort"
	"time"

	"github.com/nfnt/resize"

	"github.com/v0xg/digitwin/internal/overlay"
)

var errNoFrames = errors.New("no frames to encode")

// Options configures GIF generation
type Options struct {
	// FrameDelay is how long each frame is shown
	FrameDelay time.Duration
	// HoldLast keeps the final frame on screen longer
	HoldLast time.Duration
	MaxWidth uint
}

// Generate creates a GIF file from frames and returns its size
func Generate(frames []image.Image, outputPath string, opts Options) (int64, error) {
	if len(frames) == 0 {
		return 0, errNoFrames
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := Encode(f, frames, opts); err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Encode writes frames as a looping GIF to w
func Encode(w io.Writer, frames []image.Image, opts Options) error {
	if len(frames) == 0 {
		return errNoFrames
	}

	delay := centiseconds(opts.FrameDelay, 150)
	hold := centiseconds(opts.HoldLast, delay)

	bounds := frames[0].Bounds()
	outputWidth := opts.MaxWidth
	if outputWidth == 0 {
		outputWidth = 800
	}
	if int(outputWidth) > bounds.Dx() {
		outputWidth = uint(bounds.Dx())
	}
	aspectRatio := float64(bounds.Dy()) / float64(bounds.Dx())
	outputHeight := uint(float64(outputWidth) * aspectRatio)

	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(frames)),
		Delay:     make([]int, len(frames)),
		LoopCount: 0,
	}

	palette := generatePalette(frames[0])

	for i, frame := range frames {
		resized := resize.Resize(outputWidth, outputHeight, frame, resize.Lanczos3)

		paletted := image.NewPaletted(resized.Bounds(), palette)
		draw.FloydSteinberg.Draw(paletted, resized.Bounds(), resized, resized.Bounds().Min)

		g.Image[i] = paletted
		g.Delay[i] = delay
	}
	g.Delay[len(frames)-1] = hold

	return gif.EncodeAll(w, g)
}

// centiseconds converts d to GIF delay units, falling back to def
func centiseconds(d time.Duration, def int) int {
	if d <= 0 {
		return def
	}
	cs := int(d / (10 * time.Millisecond))
	if cs < 2 {
		cs = 2
	}
	return cs
}

// generatePalette builds a 256-color palette from the most frequent sampled colors
func generatePalette(img image.Image) color.Palette {
	bounds := img.Bounds()
	colorMap := make(map[color.RGBA]int)

	step := 4
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r, g, b, _ := img.At(x, y).RGBA()
			colorMap[color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255}]++
		}
	}

	type colorCount struct {
		c     color.RGBA
		count int
	}
	colors := make([]colorCount, 0, len(colorMap))
	for c, count := range colorMap {
		colors = append(colors, colorCount{c, count})
	}
	sort.Slice(colors, func(i, j int) bool {
		if colors[i].count != colors[j].count {
			return colors[i].count > colors[j].count
		}
		a, b := colors[i].c, colors[j].c
		return uint32(a.R)<<16|uint32(a.G)<<8|uint32(a.B) < uint32(b.R)<<16|uint32(b.G)<<8|uint32(b.B)
	})

	palette := make(color.Palette, 0, 256)
	// Marker colors are reserved so overlays survive quantization.
	palette = append(palette, overlay.Colors()...)
	for i := 0; i < len(colors) && len(palette) < 256; i++ {
		palette = append(palette, colors[i].c)
	}
	for len(palette) < 256 {
		gray := uint8(len(palette))
		palette = append(palette, color.RGBA{gray, gray, gray, 255})
	}
	return palette
}
