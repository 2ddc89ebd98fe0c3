package gifgen

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/agent"
	"github.com/v0xg/digitwin/internal/ai"
	"github.com/v0xg/digitwin/internal/executor"
	"github.com/v0xg/digitwin/internal/overlay"
)

func solid(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestEncode(t *testing.T) {
	frames := []image.Image{
		solid(200, 100, color.RGBA{255, 255, 255, 255}),
		solid(200, 100, color.RGBA{10, 20, 30, 255}),
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, frames, Options{FrameDelay: time.Second, HoldLast: 3 * time.Second, MaxWidth: 100}))

	g, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	require.Len(t, g.Image, 2)
	assert.Equal(t, 100, g.Image[0].Bounds().Dx())
	assert.Equal(t, 50, g.Image[0].Bounds().Dy())
	assert.Equal(t, []int{100, 300}, g.Delay)
}

func TestEncode_DoesNotUpscale(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []image.Image{solid(40, 20, color.RGBA{0, 0, 0, 255})}, Options{}))

	g, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, 40, g.Image[0].Bounds().Dx())
	assert.Equal(t, []int{150}, g.Delay)
}

func TestGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.gif")
	size, err := Generate([]image.Image{solid(20, 20, color.RGBA{1, 2, 3, 255})}, path, Options{})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), size)

	_, err = Generate(nil, path, Options{})
	assert.ErrorIs(t, err, errNoFrames)
}

func TestGeneratePalette(t *testing.T) {
	p := generatePalette(solid(16, 16, color.RGBA{9, 9, 9, 255}))
	assert.Len(t, p, 256)
	reserved := overlay.Colors()
	assert.Equal(t, reserved[0], p[0])
	assert.Equal(t, color.RGBA{9, 9, 9, 255}, p[len(reserved)])
}

type fakeCapturer struct {
	shotErr error
	centers map[string]image.Point
	shots   int
}

func (f *fakeCapturer) Screenshot(ctx context.Context) (image.Image, error) {
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	f.shots++
	return solid(64, 64, color.RGBA{255, 255, 255, 255}), nil
}

func (f *fakeCapturer) ElementCenter(ctx context.Context, id string) (int, int, bool) {
	p, ok := f.centers[id]
	return p.X, p.Y, ok
}

func TestRecorder(t *testing.T) {
	c := &fakeCapturer{centers: map[string]image.Point{"save": {X: 32, Y: 32}}}
	r := NewRecorder(c, zap.NewNop())

	r.Capture(context.Background())
	r.OnStep(context.Background(), agent.StepRecord{
		Step: 1,
		Response: ai.PlanResponse{Type: ai.ResponseActions, Actions: []executor.Action{
			{Name: executor.ActionClick, Args: map[string]any{"element_id": "save"}},
			{Name: executor.ActionClick, Args: map[string]any{"element_id": "gone"}},
			{Name: executor.ActionNavigate, Args: map[string]any{"screen": "Home"}},
		}},
		ActionResults: []executor.ActionResult{
			{Result: executor.Result{Success: true}}, {Result: executor.Result{Success: false}}, {Result: executor.Result{Success: true}},
		},
	})
	r.OnFinish(agent.RunState{})

	frames := r.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, 2, c.shots)

	marked := frames[1].(*image.RGBA)
	assert.NotEqual(t, color.RGBA{255, 255, 255, 255}, marked.RGBAAt(32+15, 32), "click target is ringed")

	path := filepath.Join(t.TempDir(), "run.gif")
	size, err := r.Save(path, Options{})
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestRecorder_ScreenshotFailure(t *testing.T) {
	r := NewRecorder(&fakeCapturer{shotErr: errors.New("target closed")}, nil)
	r.Capture(context.Background())
	r.OnStep(context.Background(), agent.StepRecord{Step: 1})
	assert.Empty(t, r.Frames())
}
