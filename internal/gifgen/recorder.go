package gifgen

import (
	"context"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/agent"
	"github.com/v0xg/digitwin/internal/executor"
	"github.com/v0xg/digitwin/internal/overlay"
)

// Capturer grabs viewport images and element positions
type Capturer interface {
	Screenshot(ctx context.Context) (image.Image, error)
	ElementCenter(ctx context.Context, id string) (x, y int, ok bool)
}

// Recorder is an agent.Observer that keeps one marked frame per step
type Recorder struct {
	capturer Capturer
	logger   *zap.Logger

	mu     sync.Mutex
	frames []image.Image
}

var _ agent.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder over c
func NewRecorder(c Capturer, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{capturer: c, logger: logger.Named("recorder")}
}

// Capture appends an unmarked frame of the current viewport
func (r *Recorder) Capture(ctx context.Context) {
	img, err := r.capturer.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("screenshot failed", zap.Error(err))
		return
	}
	r.append(img)
}

// OnStep implements agent.Observer
func (r *Recorder) OnStep(ctx context.Context, step agent.StepRecord) {
	img, err := r.capturer.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("screenshot failed", zap.Int("step", step.Step), zap.Error(err))
		return
	}
	r.append(overlay.Apply(img, r.marks(ctx, step)))
}

// OnFinish implements agent.Observer
func (r *Recorder) OnFinish(agent.RunState) {}

// Frames returns the recorded frames
func (r *Recorder) Frames() []image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]image.Image(nil), r.frames...)
}

// Save encodes the recorded frames to path
func (r *Recorder) Save(path string, opts Options) (int64, error) {
	return Generate(r.Frames(), path, opts)
}

func (r *Recorder) append(img image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, img)
}

// marks locates the element targets of the step's actions. Targets no
// longer on the page are skipped.
func (r *Recorder) marks(ctx context.Context, step agent.StepRecord) []overlay.Mark {
	var marks []overlay.Mark
	for i, a := range step.Response.Actions {
		kind := overlay.KindClick
		switch a.Name {
		case executor.ActionClick:
		case executor.ActionSetValue:
			kind = overlay.KindInput
		default:
			continue
		}
		id, ok := a.Arg(executor.ArgElementID)
		if !ok {
			continue
		}
		x, y, ok := r.capturer.ElementCenter(ctx, id)
		if !ok {
			continue
		}
		success := i < len(step.ActionResults) && step.ActionResults[i].Result.Success
		marks = append(marks, overlay.Mark{X: x, Y: y, Kind: kind, Success: success})
	}
	return marks
}
