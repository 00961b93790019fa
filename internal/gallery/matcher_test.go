package gallery

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facecheck/internal/models"
)

func newTestMatcher(t *testing.T, entries []models.GalleryEntry, opts ...MatcherOption) *Matcher {
	t.Helper()
	ex := &fakeExtractor{faces: map[string]models.Descriptor{
		"u1":    vec(0, 0, 0),
		"near":  vec(0.1, 0, 0),
		"edge":  vec(0.5, 0, 0),
		"far":   vec(3, 3, 3),
		"mid":   vec(0.5, 0.5, 0),
		"twin":  vec(1, 1, 1),
		"short": vec(1, 1),
	}}
	g := New(NewMemoryStore(entries...))
	opts = append([]MatcherOption{WithDescriptorDim(3), WithExtractTimeout(time.Second)}, opts...)
	return NewMatcher(g, ex, opts...)
}

func TestMatcherMatch(t *testing.T) {
	gallery := []models.GalleryEntry{
		{IdentityID: "U1", DisplayName: "Ann", Descriptors: []models.Descriptor{vec(0, 0, 0), vec(-0.2, -0.2, -0.2)}},
		{IdentityID: "U2", DisplayName: "Bob", Descriptors: []models.Descriptor{vec(1, 0, 0)}},
		{IdentityID: "U3", DisplayName: "Empty"},
	}

	tests := []struct {
		name     string
		image    string
		wantID   string
		wantDist float64
	}{
		{name: "exact match", image: "u1", wantID: "U1", wantDist: 0},
		{name: "close match", image: "near", wantID: "U1", wantDist: 0.1},
		{name: "at threshold is no match", image: "edge", wantID: "", wantDist: 0.5},
		{name: "far face", image: "far", wantID: "", wantDist: math.Sqrt(22)},
	}

	m := newTestMatcher(t, gallery)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Match(context.Background(), []byte(tt.image))
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, res.IdentityID)
			assert.InDelta(t, tt.wantDist, res.Distance, 1e-5)
			assert.Equal(t, tt.wantID != "", res.Matched())
		})
	}
}

func TestMatcherEmptyGallery(t *testing.T) {
	m := newTestMatcher(t, nil)

	res, err := m.Match(context.Background(), []byte("u1"))
	require.NoError(t, err)
	assert.False(t, res.Matched())
	assert.True(t, math.IsInf(res.Distance, 1))
}

func TestMatcherTieKeepsGalleryOrder(t *testing.T) {
	gallery := []models.GalleryEntry{
		{IdentityID: "first", Descriptors: []models.Descriptor{vec(1, 1, 1)}},
		{IdentityID: "second", Descriptors: []models.Descriptor{vec(1, 1, 1)}},
	}
	m := newTestMatcher(t, gallery)

	for i := 0; i < 20; i++ {
		res, err := m.Match(context.Background(), []byte("twin"))
		require.NoError(t, err)
		assert.Equal(t, "first", res.IdentityID)
		assert.Zero(t, res.Distance)
	}
}

func TestMatcherGlobalMinimumAcrossEntries(t *testing.T) {
	gallery := []models.GalleryEntry{
		{IdentityID: "A", Descriptors: []models.Descriptor{vec(0.4, 0.4, 0)}},
		{IdentityID: "B", Descriptors: []models.Descriptor{vec(3, 3, 3), vec(0.5, 0.45, 0)}},
	}
	m := newTestMatcher(t, gallery)

	res, err := m.Match(context.Background(), []byte("mid"))
	require.NoError(t, err)
	assert.Equal(t, "B", res.IdentityID)
	assert.InDelta(t, 0.05, res.Distance, 1e-6)
}

func TestMatcherThresholdOption(t *testing.T) {
	gallery := []models.GalleryEntry{{IdentityID: "U1", Descriptors: []models.Descriptor{vec(0, 0, 0)}}}
	m := newTestMatcher(t, gallery, WithThreshold(0.6))

	res, err := m.Match(context.Background(), []byte("edge"))
	require.NoError(t, err)
	assert.Equal(t, "U1", res.IdentityID)
	assert.Equal(t, 0.6, m.Threshold())
}

func TestMatcherErrors(t *testing.T) {
	gallery := []models.GalleryEntry{{IdentityID: "U1", Descriptors: []models.Descriptor{vec(0, 0, 0)}}}

	t.Run("no face", func(t *testing.T) {
		m := newTestMatcher(t, gallery)
		_, err := m.Match(context.Background(), []byte("nobody"))
		require.ErrorIs(t, err, ErrNoFaceDetected)
		require.ErrorIs(t, err, models.ErrNoFace)
	})

	t.Run("timeout is not a no-match", func(t *testing.T) {
		m := newTestMatcher(t, gallery, WithExtractTimeout(20*time.Millisecond))
		res, err := m.Match(context.Background(), []byte("slow"))
		require.ErrorIs(t, err, ErrExtractionTimeout)
		assert.False(t, res.Matched())
	})

	t.Run("wrong dimension", func(t *testing.T) {
		m := newTestMatcher(t, gallery)
		_, err := m.Match(context.Background(), []byte("short"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoFaceDetected)
	})
}

func TestMatcherDoesNotMutateGallery(t *testing.T) {
	store := NewMemoryStore(models.GalleryEntry{IdentityID: "U1", Descriptors: []models.Descriptor{vec(0, 0, 0)}})
	ex := &fakeExtractor{faces: map[string]models.Descriptor{"u1": vec(0, 0, 0)}}
	m := NewMatcher(New(store), ex, WithDescriptorDim(3))

	_, err := m.Match(context.Background(), []byte("u1"))
	require.NoError(t, err)

	entries, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Descriptors, 1)
}

func TestHNSWIndexFindsEnrolledDescriptor(t *testing.T) {
	var entries []models.GalleryEntry
	for i := 0; i < 30; i++ {
		f := float32(i)
		entries = append(entries, models.GalleryEntry{
			IdentityID:  string(rune('A' + i)),
			Descriptors: []models.Descriptor{vec(f, f*0.5, -f)},
		})
	}
	snap := &Snapshot{Version: 1, Entries: entries}
	idx := NewHNSWIndex(3)

	entry, dist := idx.Nearest(snap, vec(7, 3.5, -7))
	assert.Equal(t, 7, entry)
	assert.Zero(t, dist)

	exact, exactDist := ExhaustiveIndex{}.Nearest(snap, vec(7.1, 3.5, -7))
	entry, dist = idx.Nearest(snap, vec(7.1, 3.5, -7))
	assert.Equal(t, exact, entry)
	assert.InDelta(t, exactDist, dist, 1e-6)
}

func TestHNSWIndexRebuildsOnNewVersion(t *testing.T) {
	idx := NewHNSWIndex(3)
	snap := &Snapshot{Version: 1, Entries: []models.GalleryEntry{
		{IdentityID: "U1", Descriptors: []models.Descriptor{vec(0, 0, 0)}},
	}}
	entry, _ := idx.Nearest(snap, vec(5, 5, 5))
	assert.Equal(t, 0, entry)

	snap = &Snapshot{Version: 2, Entries: append(snap.Entries, models.GalleryEntry{
		IdentityID: "U2", Descriptors: []models.Descriptor{vec(5, 5, 5)},
	})}
	entry, dist := idx.Nearest(snap, vec(5, 5, 5))
	assert.Equal(t, 1, entry)
	assert.Zero(t, dist)
}

func TestHNSWIndexEmpty(t *testing.T) {
	entry, dist := NewHNSWIndex(3).Nearest(&Snapshot{Version: 1}, vec(1, 2, 3))
	assert.Equal(t, -1, entry)
	assert.True(t, math.IsInf(dist, 1))
}

func TestMatcherWithHNSWIndex(t *testing.T) {
	gallery := []models.GalleryEntry{
		{IdentityID: "U1", DisplayName: "Ann", Descriptors: []models.Descriptor{vec(0, 0, 0)}},
		{IdentityID: "U2", DisplayName: "Bob", Descriptors: []models.Descriptor{vec(3, 3, 3)}},
	}
	m := newTestMatcher(t, gallery, WithIndex(NewHNSWIndex(3)))

	res, err := m.Match(context.Background(), []byte("near"))
	require.NoError(t, err)
	assert.Equal(t, "U1", res.IdentityID)
	assert.Equal(t, "Ann", res.DisplayName)
}
