package disposition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matcontt/tindercam/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type orchestratorFixture struct {
	*storeFixture
	orch   *Orchestrator
	events []Event
	seq    int
}

func newOrchestratorFixture(t *testing.T, trashCapacity int, opts OrchestratorOptions) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{storeFixture: newStoreFixture(t, trashCapacity)}
	classifier, err := NewClassifier(1000, 0.1)
	require.NoError(t, err)
	f.orch = NewOrchestrator(f.store, classifier, f.blobs, opts, zaptest.NewLogger(t))
	f.orch.Subscribe(func(e Event) { f.events = append(f.events, e) })
	return f
}

// session returns a capture session producing photos with increasing capture times.
func (f *orchestratorFixture) session(t *testing.T) CaptureSession {
	return CaptureFunc(func(context.Context) (*domain.Photo, error) {
		f.seq++
		return f.withBlob(t, photoAt(fmt.Sprintf("c%03d", f.seq), time.Duration(f.seq)*time.Second)), nil
	})
}

func (f *orchestratorFixture) capture(t *testing.T) *domain.Photo {
	t.Helper()
	p, err := f.orch.Capture(context.Background(), f.session(t))
	require.NoError(t, err)
	return p
}

func (f *orchestratorFixture) swipe(t *testing.T, samples ...float64) (Outcome, error) {
	t.Helper()
	require.NoError(t, f.orch.BeginGesture())
	for _, x := range samples {
		_, err := f.orch.Move(x)
		require.NoError(t, err)
	}
	return f.orch.Release(context.Background())
}

func (f *orchestratorFixture) signals() []Signal {
	var out []Signal
	for _, e := range f.events {
		if e.Signal != SignalCountsChanged {
			out = append(out, e.Signal)
		}
	}
	return out
}

func TestOrchestratorKeep(t *testing.T) {
	f := newOrchestratorFixture(t, 10, OrchestratorOptions{})
	p := f.capture(t)

	out, err := f.swipe(t, 0, 50, 120)
	require.NoError(t, err)
	assert.Equal(t, CommitRight, out.Verdict)
	assert.Equal(t, SignalReadyForNext, out.Signal)
	assert.Equal(t, domain.Gallery, out.Collection)
	assert.Equal(t, p.ID, out.Photo.ID)
	assert.Equal(t, 1, out.Counts.Gallery)
	assert.Nil(t, f.orch.InFlight())
	assert.Equal(t, []Signal{SignalCaptured, SignalClassified, SignalReadyForNext}, f.signals())
}

func TestOrchestratorCancel(t *testing.T) {
	f := newOrchestratorFixture(t, 10, OrchestratorOptions{})
	p := f.capture(t)

	for _, samples := range [][]float64{{-40}, {100}, {-100}, {}} {
		out, err := f.swipe(t, samples...)
		require.NoError(t, err)
		assert.Equal(t, Cancel, out.Verdict, "samples %v", samples)
		assert.Equal(t, SignalCancelled, out.Signal)
		assert.Empty(t, out.Collection)
	}
	assert.Equal(t, p, f.orch.InFlight())
	assert.Equal(t, domain.Counts{GalleryCapacity: 15, TrashCapacity: 10}, f.store.Counts())
}

func TestOrchestratorGalleryFull(t *testing.T) {
	f := newOrchestratorFixture(t, 10, OrchestratorOptions{})
	for i := 0; i < domain.GalleryCapacity; i++ {
		f.capture(t)
		_, err := f.swipe(t, 150)
		require.NoError(t, err)
	}
	p := f.capture(t)
	f.events = nil

	out, err := f.swipe(t, 150)
	require.NoError(t, err)
	assert.Equal(t, CommitRight, out.Verdict)
	assert.Equal(t, SignalGalleryFull, out.Signal)
	assert.Empty(t, out.Collection)
	assert.Equal(t, 15, out.Counts.Gallery)
	assert.Equal(t, p, f.orch.InFlight(), "photo stays in flight")
	assert.Equal(t, []Signal{SignalClassified, SignalGalleryFull}, f.signals())

	t.Run("discarding left still works", func(t *testing.T) {
		out, err := f.swipe(t, -150)
		require.NoError(t, err)
		assert.Equal(t, domain.Trash, out.Collection)
		assert.Nil(t, f.orch.InFlight())
	})
}

func TestOrchestratorTrashEviction(t *testing.T) {
	f := newOrchestratorFixture(t, 3, OrchestratorOptions{})
	var first *domain.Photo
	for i := 0; i < 3; i++ {
		p := f.capture(t)
		if first == nil {
			first = p
		}
		_, err := f.swipe(t, -150)
		require.NoError(t, err)
	}
	f.capture(t)
	f.events = nil

	out, err := f.swipe(t, -30, -90, -150)
	require.NoError(t, err)
	assert.Equal(t, CommitLeft, out.Verdict)
	assert.Equal(t, SignalReadyForNext, out.Signal)
	require.NotNil(t, out.Evicted)
	assert.Equal(t, first.ID, out.Evicted.ID)
	assert.Equal(t, 3, out.Counts.Trash)
	assert.Equal(t, []Signal{SignalClassified, SignalTrashEviction, SignalReadyForNext}, f.signals())

	exists, err := f.blobs.Exists(first.SourceURI)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOrchestratorPersistenceFailure(t *testing.T) {
	f := newOrchestratorFixture(t, 10, OrchestratorOptions{})
	p := f.capture(t)
	f.store.repo = failingRepo{f.repo}

	out, err := f.swipe(t, 150)
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, SignalCommitFailed, out.Signal)
	assert.Equal(t, p, f.orch.InFlight())
	assert.Equal(t, 0, f.store.GalleryCount())

	f.store.repo = f.repo
	out, err = f.swipe(t, 150)
	require.NoError(t, err)
	assert.Equal(t, domain.Gallery, out.Collection)
}

func TestOrchestratorCapture(t *testing.T) {
	ctx := context.Background()

	t.Run("refuses while a photo is in flight", func(t *testing.T) {
		f := newOrchestratorFixture(t, 10, OrchestratorOptions{})
		f.capture(t)
		_, err := f.orch.Capture(ctx, f.session(t))
		require.ErrorIs(t, err, domain.ErrPhotoInFlight)
	})

	t.Run("failure leaves nothing in flight", func(t *testing.T) {
		f := newOrchestratorFixture(t, 10, OrchestratorOptions{})
		failing := CaptureFunc(func(context.Context) (*domain.Photo, error) {
			return nil, errors.New("camera unavailable")
		})
		_, err := f.orch.Capture(ctx, failing)
		require.ErrorIs(t, err, domain.ErrCaptureFailure)
		assert.Nil(t, f.orch.InFlight())

		f.capture(t)
	})

	t.Run("invalid photo is a capture failure", func(t *testing.T) {
		f := newOrchestratorFixture(t, 10, OrchestratorOptions{})
		invalid := CaptureFunc(func(context.Context) (*domain.Photo, error) {
			return &domain.Photo{ID: "x"}, nil
		})
		_, err := f.orch.Capture(ctx, invalid)
		require.ErrorIs(t, err, domain.ErrCaptureFailure)
		require.ErrorIs(t, err, domain.ErrInvalidPhoto)
	})

	t.Run("concurrent capture is busy", func(t *testing.T) {
		f := newOrchestratorFixture(t, 10, OrchestratorOptions{})
		started := make(chan struct{})
		proceed := make(chan struct{})
		slow := CaptureFunc(func(context.Context) (*domain.Photo, error) {
			close(started)
			<-proceed
			return photoAt("slow", 0), nil
		})

		var wg sync.WaitGroup
		wg.Add(1)
		var captured *domain.Photo
		var captureErr error
		go func() {
			defer wg.Done()
			captured, captureErr = f.orch.Capture(ctx, slow)
		}()
		<-started

		_, err := f.orch.Capture(ctx, f.session(t))
		assert.ErrorIs(t, err, domain.ErrBusy)
		assert.ErrorIs(t, f.orch.BeginGesture(), domain.ErrBusy)
		assert.True(t, f.orch.Status().Busy)

		close(proceed)
		wg.Wait()
		require.NoError(t, captureErr)
		assert.Equal(t, "slow", captured.ID)
		assert.False(t, f.orch.Status().Busy)
	})

	t.Run("gallery space gate", func(t *testing.T) {
		f := newOrchestratorFixture(t, 10, OrchestratorOptions{RequireGallerySpace: true})
		for i := 0; i < domain.GalleryCapacity; i++ {
			f.capture(t)
			_, err := f.swipe(t, 150)
			require.NoError(t, err)
		}
		_, err := f.orch.Capture(ctx, f.session(t))
		require.ErrorIs(t, err, domain.ErrCapacityExceeded)
		assert.Equal(t, SignalGalleryFull, f.events[len(f.events)-1].Signal)

		_, _, err = f.store.Delete(ctx, f.store.Gallery()[0].ID)
		require.NoError(t, err)
		f.capture(t)
	})
}

func TestOrchestratorGestureErrors(t *testing.T) {
	f := newOrchestratorFixture(t, 10, OrchestratorOptions{})

	require.ErrorIs(t, f.orch.BeginGesture(), domain.ErrNoPhotoInFlight)
	_, err := f.orch.Move(10)
	require.ErrorIs(t, err, domain.ErrNoPhotoInFlight)
	_, err = f.orch.Release(context.Background())
	require.ErrorIs(t, err, domain.ErrNoPhotoInFlight)

	f.capture(t)
	_, err = f.orch.Move(10)
	require.ErrorIs(t, err, domain.ErrGestureIdle)
	_, err = f.orch.Release(context.Background())
	require.ErrorIs(t, err, domain.ErrGestureIdle)

	require.NoError(t, f.orch.BeginGesture())
	require.ErrorIs(t, f.orch.BeginGesture(), domain.ErrGestureActive)
	fb, err := f.orch.Move(50)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fb.Keep, 1e-9)
	assert.True(t, f.orch.Status().Gesture)
}

func TestOrchestratorDiscard(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t, 10, OrchestratorOptions{})

	_, err := f.orch.Discard(ctx)
	require.ErrorIs(t, err, domain.ErrNoPhotoInFlight)

	p := f.capture(t)
	discarded, err := f.orch.Discard(ctx)
	require.NoError(t, err)
	assert.Equal(t, p, discarded)
	assert.Nil(t, f.orch.InFlight())

	exists, err := f.blobs.Exists(p.SourceURI)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 0, f.store.GalleryCount()+f.store.TrashCount())
}

func TestOrchestratorReconcileKeepsInFlight(t *testing.T) {
	f := newOrchestratorFixture(t, 10, OrchestratorOptions{})
	p := f.capture(t)
	f.withBlob(t, photoAt("orphan", 0))

	released, err := f.orch.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Len(t, released, 1)

	exists, err := f.blobs.Exists(p.SourceURI)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestOrchestratorReconcileDuringCapture(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t, 10, OrchestratorOptions{})

	var reconcileErr error
	p, err := f.orch.Capture(ctx, CaptureFunc(func(ctx context.Context) (*domain.Photo, error) {
		fresh := f.withBlob(t, photoAt("fresh", time.Second))
		_, reconcileErr = f.orch.Reconcile(ctx)
		return fresh, nil
	}))
	require.NoError(t, err)
	require.ErrorIs(t, reconcileErr, domain.ErrBusy)

	exists, err := f.blobs.Exists(p.SourceURI)
	require.NoError(t, err)
	assert.True(t, exists)

	out, err := f.swipe(t, 150)
	require.NoError(t, err)
	assert.Equal(t, domain.Gallery, out.Collection)
	exists, err = f.blobs.Exists(p.SourceURI)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestOrchestratorEventOrder(t *testing.T) {
	f := newOrchestratorFixture(t, 1, OrchestratorOptions{})
	f.capture(t)
	_, err := f.swipe(t, -150)
	require.NoError(t, err)
	f.capture(t)
	f.events = nil

	out, err := f.swipe(t, -150)
	require.NoError(t, err)
	require.NotNil(t, out.Evicted)

	var got []Signal
	for _, e := range f.events {
		got = append(got, e.Signal)
	}
	assert.Equal(t, []Signal{SignalClassified, SignalTrashEviction, SignalCountsChanged, SignalReadyForNext}, got)
	assert.Equal(t, out.Counts, f.events[len(f.events)-1].Counts)
	assert.Equal(t, out.Counts, f.events[2].Counts, "counts_changed carries the committed counts")
}
