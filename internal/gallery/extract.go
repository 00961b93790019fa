package gallery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/observability"
)

var (
	// ErrNoFaceDetected means the extractor found no face in the image.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrExtractionTimeout means extraction did not finish in time. It is a
	// processing failure, never a no-match.
	ErrExtractionTimeout = errors.New("descriptor extraction timed out")
)

// Extractor turns an image into a face descriptor. It returns
// models.ErrNoFace when the image holds no detectable face.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (models.Descriptor, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, image []byte) (models.Descriptor, error)

func (f ExtractorFunc) Extract(ctx context.Context, image []byte) (models.Descriptor, error) {
	return f(ctx, image)
}

// extract runs the extractor off the caller's goroutine and gives up after
// timeout even if the extractor ignores ctx.
func extract(ctx context.Context, ex Extractor, image []byte, timeout time.Duration, dim int) (models.Descriptor, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		desc models.Descriptor
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		d, err := ex.Extract(ctx, image)
		done <- result{desc: d, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = result{err: ctx.Err()}
	}
	observability.ExtractionDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())

	switch {
	case r.err == nil:
	case errors.Is(r.err, models.ErrNoFace):
		return nil, fmt.Errorf("%w: %w", ErrNoFaceDetected, r.err)
	case errors.Is(r.err, context.DeadlineExceeded):
		return nil, ErrExtractionTimeout
	default:
		return nil, fmt.Errorf("extract descriptor: %w", r.err)
	}

	if dim > 0 {
		if err := r.desc.Validate(dim); err != nil {
			return nil, fmt.Errorf("extract descriptor: %w", err)
		}
	}
	return r.desc, nil
}
