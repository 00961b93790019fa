package gallery

import (
	"context"
	"math"
	"time"

	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/observability"
)

// DefaultThreshold is the largest euclidean distance, exclusive, that still
// counts as the same face.
const DefaultThreshold = 0.5

// Matcher answers "whose face is this?" against the gallery. It never
// modifies the gallery.
type Matcher struct {
	gallery   *Gallery
	extractor Extractor
	index     Index
	threshold float64
	timeout   time.Duration
	dim       int
}

type MatcherOption func(*Matcher)

func WithThreshold(t float64) MatcherOption {
	return func(m *Matcher) { m.threshold = t }
}

func WithExtractTimeout(d time.Duration) MatcherOption {
	return func(m *Matcher) { m.timeout = d }
}

func WithIndex(idx Index) MatcherOption {
	return func(m *Matcher) { m.index = idx }
}

// WithDescriptorDim makes the matcher reject descriptors of another length.
func WithDescriptorDim(dim int) MatcherOption {
	return func(m *Matcher) { m.dim = dim }
}

func NewMatcher(g *Gallery, ex Extractor, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		gallery:   g,
		extractor: ex,
		index:     ExhaustiveIndex{},
		threshold: DefaultThreshold,
		dim:       models.DescriptorDim,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Matcher) Threshold() float64 { return m.threshold }

// Match extracts one descriptor from img and finds the closest identity.
func (m *Matcher) Match(ctx context.Context, img []byte) (models.MatchResult, error) {
	desc, err := extract(ctx, m.extractor, img, m.timeout, m.dim)
	if err != nil {
		observability.MatchOutcomes.WithLabelValues("error").Inc()
		return models.MatchResult{Distance: math.Inf(1)}, err
	}
	return m.MatchDescriptor(ctx, desc)
}

// MatchDescriptor finds the closest identity to an already extracted
// descriptor. A best distance at or above the threshold is no match.
func (m *Matcher) MatchDescriptor(ctx context.Context, desc models.Descriptor) (models.MatchResult, error) {
	snap, err := m.gallery.Snapshot(ctx)
	if err != nil {
		observability.MatchOutcomes.WithLabelValues("error").Inc()
		return models.MatchResult{Distance: math.Inf(1)}, err
	}

	entry, dist := m.index.Nearest(snap, desc)
	if entry < 0 {
		observability.MatchOutcomes.WithLabelValues("empty").Inc()
		return models.MatchResult{Distance: math.Inf(1)}, nil
	}
	observability.MatchDistance.Observe(dist)

	if !(dist < m.threshold) {
		observability.MatchOutcomes.WithLabelValues("none").Inc()
		return models.MatchResult{Distance: dist}, nil
	}

	observability.MatchOutcomes.WithLabelValues("matched").Inc()
	e := snap.Entries[entry]
	return models.MatchResult{
		IdentityID:  e.IdentityID,
		DisplayName: e.DisplayName,
		Distance:    dist,
	}, nil
}
