package generation

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math/rand"
	"time"

	"github.com/phrazzld/imagen-api/internal/domain"
)

// StubEngine is a Generator that renders deterministic placeholder images
// instead of running a diffusion model. It honors the full engine
// contract (per-step progress, cancellation between steps, seed
// resolution), which makes it suitable for local development and for
// exercising the worker pipeline in tests.
type StubEngine struct {
	// StepDelay is the simulated duration of one denoising step. Zero
	// means no artificial delay.
	StepDelay time.Duration

	logger *slog.Logger
	// seedFn supplies the seed when the request leaves it unset.
	seedFn func() int64
}

var _ Generator = (*StubEngine)(nil)

// NewStubEngine creates a stub engine with the given per-step delay.
func NewStubEngine(stepDelay time.Duration, logger *slog.Logger) *StubEngine {
	return &StubEngine{
		StepDelay: stepDelay,
		logger:    logger.With("component", "stub_engine"),
		seedFn:    func() int64 { return rand.Int63() },
	}
}

// Generate walks the configured number of steps, checking for
// cancellation before each one, then encodes a PNG derived from the
// resolved seed. The returned params are a deep copy with the seed
// filled in; the caller's params are never mutated.
func (e *StubEngine) Generate(ctx context.Context, params domain.Params, cancelled CancelCheck, progress Progress) ([]byte, domain.Params, error) {
	resolved := params.Clone()
	common := resolved.Common()
	if common.Seed == nil {
		seed := e.seedFn()
		common.Seed = &seed
	}

	width, height := outputSize(resolved)
	steps := common.Steps

	e.logger.Debug("stub generation started",
		"task_type", resolved.TaskType(),
		"steps", steps,
		"seed", *common.Seed)

	for step := 1; step <= steps; step++ {
		if cancelled != nil && cancelled() {
			return nil, nil, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if e.StepDelay > 0 {
			select {
			case <-time.After(e.StepDelay):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
		if progress != nil {
			progress(step, steps)
		}
	}

	data, err := renderNoise(width, height, *common.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding stub image: %w", err)
	}
	return data, resolved, nil
}

// outputSize picks the canvas for the placeholder. Image-conditioned
// tasks have no decoded source here, so they fall back to the default
// canvas.
func outputSize(params domain.Params) (int, int) {
	if p, ok := params.(*domain.Txt2ImgParams); ok {
		return p.Width, p.Height
	}
	return domain.DefaultWidth, domain.DefaultHeight
}

// renderNoise produces a PNG of seed-deterministic colored noise, so the
// same seed always yields the same bytes.
func renderNoise(width, height int, seed int64) ([]byte, error) {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
