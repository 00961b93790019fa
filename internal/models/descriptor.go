package models

import (
	"errors"
	"fmt"
	"math"
)

// DescriptorDim is the default descriptor length produced by the face
// recognition network.
const DescriptorDim = 128

var (
	// ErrNoFace is returned by an extractor when the image contains no detectable face.
	ErrNoFace = errors.New("no face found")
	// ErrMultipleFaces is returned by an extractor configured to reject
	// images with more than one detected face.
	ErrMultipleFaces = errors.New("multiple faces found")
	// ErrUndecodable means the upload is not an image the extractor can read.
	ErrUndecodable = errors.New("image cannot be decoded")
)

// Descriptor is a face embedding. It is never modified after extraction.
type Descriptor []float32

// Distance returns the euclidean distance between two descriptors.
// Descriptors of different length are infinitely far apart.
func (d Descriptor) Distance(other Descriptor) float64 {
	if len(d) != len(other) || len(d) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range d {
		diff := float64(d[i]) - float64(other[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

func (d Descriptor) Validate(dim int) error {
	if len(d) != dim {
		return fmt.Errorf("descriptor has %d dimensions, want %d", len(d), dim)
	}
	for i, v := range d {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("descriptor component %d is not finite", i)
		}
	}
	return nil
}

// GalleryEntry holds every descriptor enrolled for one identity.
// JSON tags match the legacy trained-data file layout.
type GalleryEntry struct {
	IdentityID  string       `json:"user_id"`
	DisplayName string       `json:"name"`
	Descriptors []Descriptor `json:"descriptors"`
}

// MatchResult is the outcome of one matcher call. IdentityID is empty when
// no gallery entry was close enough.
type MatchResult struct {
	IdentityID  string  `json:"identity_id,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Distance    float64 `json:"distance"`
}

func (r MatchResult) Matched() bool {
	return r.IdentityID != ""
}
