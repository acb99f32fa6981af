// Package generation defines the boundary between task orchestration and
// the image synthesis engine. The worker runner drives any Generator
// through this interface; the engine itself is a replaceable component
// living on the other side of it.
package generation

import (
	"context"

	"github.com/phrazzld/imagen-api/internal/domain"
)

// CancelCheck is polled by the engine between denoising steps. Returning
// true tells the engine to stop as soon as it can.
type CancelCheck func() bool

// Progress is invoked by the engine after each completed step with the
// one-based step number and the total step count. Implementations must
// not block; the engine calls it inline.
type Progress func(step, total int)

// Generator produces an encoded image from fully validated, defaulted
// parameters.
//
// The returned params are the ones actually used, with every
// engine-chosen value (notably the seed) filled in, so a caller can
// reproduce the image exactly. On cancellation via the CancelCheck the
// engine returns ErrCancelled; any other error means the attempt failed
// and will not be retried.
type Generator interface {
	Generate(ctx context.Context, params domain.Params, cancelled CancelCheck, progress Progress) ([]byte, domain.Params, error)
}
