package predictor

import (
	"context"
	"errors"

	"github.com/vnmchuo/forecast-api/internal/forecast"
)

// ErrModelNotLoaded is returned by the unavailable predictor installed when
// the model artifact could not be loaded at startup. Submissions are still
// accepted; each job fails with this error during processing.
var ErrModelNotLoaded = errors.New("model not loaded")

// Predictor scores a validated forecast request. Calendar feature
// derivation is internal to the implementation; callers only see the
// request-in, number-out contract. Implementations must be safe for
// concurrent use even though the worker currently calls sequentially.
type Predictor interface {
	Predict(ctx context.Context, req forecast.Request) (float64, error)
}

// Unavailable is the predictor used when no model artifact is loaded.
type Unavailable struct{}

func (Unavailable) Predict(_ context.Context, _ forecast.Request) (float64, error) {
	return 0, ErrModelNotLoaded
}
