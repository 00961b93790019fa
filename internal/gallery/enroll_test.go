package gallery

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/upload"
)

func enrollExtractor() *fakeExtractor {
	faces := map[string]models.Descriptor{}
	for i := 0; i < 10; i++ {
		faces[fmt.Sprintf("face%d", i)] = vec(float32(i), 0, 0)
	}
	return &fakeExtractor{faces: faces}
}

func images(imgs ...*fakeImage) []upload.Image {
	out := make([]upload.Image, len(imgs))
	for i, img := range imgs {
		out[i] = img
	}
	return out
}

func newTestEnroller(store Store, opts ...EnrollerOption) (*Enroller, *Gallery) {
	g := New(store)
	opts = append([]EnrollerOption{WithEnrollDim(3), WithEnrollTimeout(time.Second)}, opts...)
	return NewEnroller(g, enrollExtractor(), fakeDirectory{"U1": "Ann", "U2": "Bob"}, opts...), g
}

func TestEnrollCountsAndDiscards(t *testing.T) {
	e, g := newTestEnroller(NewMemoryStore(), WithEnrollTimeout(50*time.Millisecond))
	imgs := []*fakeImage{newImage("face1"), newImage("nobody"), newImage("face2"), newImage("broken"), newImage("slow")}

	res, err := e.Enroll(context.Background(), "U1", images(imgs...))
	require.NoError(t, err)
	assert.Equal(t, EnrollResult{Accepted: 2, Rejected: 3}, res)

	for _, img := range imgs {
		assert.True(t, img.wasDiscarded(), img.name)
	}

	snap, err := g.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "U1", snap.Entries[0].IdentityID)
	assert.Equal(t, "Ann", snap.Entries[0].DisplayName)
	assert.Len(t, snap.Entries[0].Descriptors, 2)
}

func TestEnrollIsMonotonic(t *testing.T) {
	e, g := newTestEnroller(NewMemoryStore())
	ctx := context.Background()

	prev := 0
	batches := [][]string{{"face1"}, {"nobody"}, {"face2", "face3"}, {"broken"}}
	for _, batch := range batches {
		var imgs []*fakeImage
		for _, name := range batch {
			imgs = append(imgs, newImage(name))
		}
		res, err := e.Enroll(ctx, "U1", images(imgs...))
		require.NoError(t, err)

		count, err := g.Count(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, prev+res.Accepted, count)
		assert.GreaterOrEqual(t, count, prev)
		prev = count
	}
	assert.Equal(t, 3, prev)
}

func TestEnrollZeroAcceptedWritesNothing(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	e, _ := newTestEnroller(store)

	res, err := e.Enroll(context.Background(), "U1", images(newImage("nobody"), newImage("broken")))
	require.NoError(t, err)
	assert.Equal(t, EnrollResult{Rejected: 2}, res)
	assert.Zero(t, store.replaces)
}

func TestEnrollGalleryFailureIsFatal(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore(), failWith: errors.New("disk full")}
	e, _ := newTestEnroller(store)
	img := newImage("face1")

	_, err := e.Enroll(context.Background(), "U1", images(img))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, img.wasDiscarded())
}

func TestEnrollRejectsBadRequests(t *testing.T) {
	e, _ := newTestEnroller(NewMemoryStore(), WithMaxBatch(2))

	t.Run("unknown identity", func(t *testing.T) {
		img := newImage("face1")
		_, err := e.Enroll(context.Background(), "ghost", images(img))
		require.ErrorIs(t, err, ErrIdentityNotFound)
		assert.True(t, img.wasDiscarded())
	})

	t.Run("batch too large", func(t *testing.T) {
		imgs := []*fakeImage{newImage("face1"), newImage("face2"), newImage("face3")}
		_, err := e.Enroll(context.Background(), "U1", images(imgs...))
		require.ErrorIs(t, err, ErrBatchTooLarge)
		for _, img := range imgs {
			assert.True(t, img.wasDiscarded())
		}
	})

	t.Run("no images", func(t *testing.T) {
		_, err := e.Enroll(context.Background(), "U1", nil)
		require.ErrorIs(t, err, ErrNoImages)
	})
}

func TestEnrollCancelledContext(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	e, _ := newTestEnroller(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	imgs := []*fakeImage{newImage("face1"), newImage("face2")}
	_, err := e.Enroll(ctx, "U1", images(imgs...))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.replaces)
	for _, img := range imgs {
		assert.True(t, img.wasDiscarded())
	}
}

func TestConcurrentEnrollmentKeepsBothSets(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "gallery.json"))
	e, g := newTestEnroller(store)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Enroll(ctx, "U1", images(newImage(fmt.Sprintf("face%d", i))))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := g.Count(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, workers, count)
}
