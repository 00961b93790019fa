package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/observability"
	"github.com/your-org/facecheck/internal/upload"
)

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrBatchTooLarge    = errors.New("too many images in one enrollment")
	ErrNoImages         = errors.New("no images provided")
)

// IdentityDirectory resolves identities owned by the surrounding system.
type IdentityDirectory interface {
	GetIdentity(ctx context.Context, id string) (*models.Identity, error)
}

type EnrollResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Enroller turns labeled images into gallery descriptors.
type Enroller struct {
	gallery    *Gallery
	extractor  Extractor
	identities IdentityDirectory
	timeout    time.Duration
	dim        int
	maxBatch   int
}

type EnrollerOption func(*Enroller)

func WithEnrollTimeout(d time.Duration) EnrollerOption {
	return func(e *Enroller) { e.timeout = d }
}

func WithMaxBatch(n int) EnrollerOption {
	return func(e *Enroller) { e.maxBatch = n }
}

func WithEnrollDim(dim int) EnrollerOption {
	return func(e *Enroller) { e.dim = dim }
}

func NewEnroller(g *Gallery, ex Extractor, identities IdentityDirectory, opts ...EnrollerOption) *Enroller {
	e := &Enroller{
		gallery:    g,
		extractor:  ex,
		identities: identities,
		dim:        models.DescriptorDim,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enroll extracts a descriptor from every image and appends the accepted ones
// to the identity's gallery entry in a single write. Images without a usable
// face are counted as rejected. Every image is discarded before Enroll
// returns, on every path.
func (e *Enroller) Enroll(ctx context.Context, identityID string, images []upload.Image) (EnrollResult, error) {
	cleanupCtx := context.WithoutCancel(ctx)
	defer upload.DiscardAll(cleanupCtx, images)

	var res EnrollResult
	if len(images) == 0 {
		return res, ErrNoImages
	}
	if e.maxBatch > 0 && len(images) > e.maxBatch {
		return res, fmt.Errorf("%w: got %d, limit %d", ErrBatchTooLarge, len(images), e.maxBatch)
	}

	identity, err := e.identities.GetIdentity(ctx, identityID)
	if err != nil {
		return res, fmt.Errorf("lookup identity %s: %w", identityID, err)
	}

	descriptors := make([]models.Descriptor, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		desc, err := e.process(ctx, img)
		if discardErr := img.Discard(cleanupCtx); discardErr != nil {
			slog.Warn("discard enrollment image", "identity_id", identityID, "name", img.Name(), "error", discardErr)
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Rejected++
			observability.EnrollmentImages.WithLabelValues("rejected").Inc()
			slog.Info("enrollment image rejected", "identity_id", identityID, "name", img.Name(), "error", err)
			continue
		}
		res.Accepted++
		observability.EnrollmentImages.WithLabelValues("accepted").Inc()
		descriptors = append(descriptors, desc)
	}

	if len(descriptors) == 0 {
		return res, nil
	}
	if err := e.gallery.Append(ctx, identity.ID, identity.DisplayName, descriptors); err != nil {
		return res, fmt.Errorf("enroll %s: %w", identityID, err)
	}

	slog.Info("enrollment complete", "identity_id", identityID, "accepted", res.Accepted, "rejected", res.Rejected)
	return res, nil
}

func (e *Enroller) process(ctx context.Context, img upload.Image) (models.Descriptor, error) {
	data, err := img.Bytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return extract(ctx, e.extractor, data, e.timeout, e.dim)
}
