package disposition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matcontt/tindercam/internal/domain"
	"go.uber.org/zap"
)

// Signal tells the presentation layer what just happened.
type Signal string

const (
	SignalCaptured      Signal = "captured"
	SignalCaptureFailed Signal = "capture_failed"
	SignalClassified    Signal = "classified"
	SignalCancelled     Signal = "cancelled"
	SignalGalleryFull   Signal = "gallery_full"
	SignalTrashEviction Signal = "trash_eviction"
	SignalReadyForNext  Signal = "ready_for_next"
	SignalCommitFailed  Signal = "commit_failed"
	SignalDiscarded     Signal = "discarded"
	SignalCountsChanged Signal = "counts_changed"
)

// Event is delivered to orchestrator observers.
type Event struct {
	Signal  Signal        `json:"signal"`
	Verdict Verdict       `json:"verdict"`
	Photo   *domain.Photo `json:"photo,omitempty"`
	Evicted *domain.Photo `json:"evicted,omitempty"`
	Counts  domain.Counts `json:"counts"`
	Err     error         `json:"-"`
}

// Outcome is the result of one gesture release.
type Outcome struct {
	Verdict Verdict `json:"verdict"`
	Signal  Signal  `json:"signal"`
	// Photo is the photo the gesture was applied to.
	Photo *domain.Photo `json:"photo,omitempty"`
	// Collection is where the photo landed, empty while it stays in flight.
	Collection domain.Collection `json:"collection,omitempty"`
	Evicted    *domain.Photo     `json:"evicted,omitempty"`
	Counts     domain.Counts     `json:"counts"`
}

// Status is a snapshot of the orchestrator.
type Status struct {
	InFlight *domain.Photo `json:"in_flight,omitempty"`
	Gesture  bool          `json:"gesture_active"`
	Feedback Feedback      `json:"feedback"`
	Busy     bool          `json:"busy"`
	Counts   domain.Counts `json:"counts"`
}

// OrchestratorOptions tunes optional behavior.
type OrchestratorOptions struct {
	// RequireGallerySpace refuses captures while the gallery is full.
	RequireGallerySpace bool
}

// Orchestrator sequences capture, gesture and commit for one photo at a time.
// Every operation is serialized; a commit runs while the lock is held.
type Orchestrator struct {
	mu         sync.Mutex
	store      *Store
	classifier *Classifier
	blobs      BlobStore
	opts       OrchestratorOptions
	inFlight   *domain.Photo
	busy       bool
	logger     *zap.Logger

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObs   int
}

// NewOrchestrator builds an idle orchestrator committing to store.
func NewOrchestrator(store *Store, classifier *Classifier, blobs BlobStore, opts OrchestratorOptions, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		store:      store,
		classifier: classifier,
		blobs:      blobs,
		opts:       opts,
		logger:     logger.Named("orchestrator"),
		observers:  make(map[int]func(Event)),
	}
	store.Subscribe(func(c domain.Counts) {
		o.emit(Event{Signal: SignalCountsChanged, Counts: c})
	})
	return o
}

// Subscribe registers fn for every event. Events are delivered synchronously
// and fn must not call back into the orchestrator.
func (o *Orchestrator) Subscribe(fn func(Event)) (unsubscribe func()) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = fn
	return func() {
		o.obsMu.Lock()
		defer o.obsMu.Unlock()
		delete(o.observers, id)
	}
}

func (o *Orchestrator) emit(e Event) {
	o.obsMu.Lock()
	fns := make([]func(Event), 0, len(o.observers))
	for _, fn := range o.observers {
		fns = append(fns, fn)
	}
	o.obsMu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// Store returns the photo store the orchestrator commits to.
func (o *Orchestrator) Store() *Store {
	return o.store
}

// InFlight returns the photo awaiting disposition, if any.
func (o *Orchestrator) InFlight() *domain.Photo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// Status returns a snapshot of the in-flight photo, gesture and counts.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		InFlight: o.inFlight,
		Gesture:  o.classifier.Active(),
		Feedback: o.classifier.Feedback(),
		Busy:     o.busy,
		Counts:   o.store.Counts(),
	}
}

// Capture asks session for a new photo and makes it the in-flight photo.
// The lock is released while the session runs; concurrent callers get ErrBusy.
func (o *Orchestrator) Capture(ctx context.Context, session CaptureSession) (*domain.Photo, error) {
	o.mu.Lock()
	if err := o.checkIdleLocked(); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if o.opts.RequireGallerySpace && o.store.IsGalleryFull() {
		o.mu.Unlock()
		o.emit(Event{Signal: SignalGalleryFull, Counts: o.store.Counts()})
		return nil, fmt.Errorf("while capturing: %w", domain.ErrCapacityExceeded)
	}
	o.busy = true
	o.mu.Unlock()

	photo, err := session.Capture(ctx)
	if err == nil {
		err = photo.Validate()
	}

	o.mu.Lock()
	o.busy = false
	if err != nil {
		o.mu.Unlock()
		if !errors.Is(err, domain.ErrCaptureFailure) {
			err = fmt.Errorf("%w: %w", domain.ErrCaptureFailure, err)
		}
		o.logger.Warn("capture failed", zap.Error(err))
		o.emit(Event{Signal: SignalCaptureFailed, Counts: o.store.Counts(), Err: err})
		return nil, err
	}
	o.inFlight = photo
	o.classifier.Reset()
	o.mu.Unlock()

	o.logger.Info("captured photo", zap.String("photo", photo.ID), zap.Time("captured_at", photo.CapturedAt))
	o.emit(Event{Signal: SignalCaptured, Photo: photo, Counts: o.store.Counts()})
	return photo, nil
}

func (o *Orchestrator) checkIdleLocked() error {
	if o.busy {
		return domain.ErrBusy
	}
	if o.inFlight != nil {
		return fmt.Errorf("while capturing: %w (%s)", domain.ErrPhotoInFlight, o.inFlight.ID)
	}
	return nil
}

// BeginGesture starts tracking a gesture on the in-flight photo.
func (o *Orchestrator) BeginGesture() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkInFlightLocked(); err != nil {
		return err
	}
	return o.classifier.Begin()
}

// Move records the cumulative horizontal translation of the active gesture.
func (o *Orchestrator) Move(translationX float64) (Feedback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkInFlightLocked(); err != nil {
		return Feedback{}, err
	}
	return o.classifier.Move(translationX)
}

func (o *Orchestrator) checkInFlightLocked() error {
	if o.busy {
		return domain.ErrBusy
	}
	if o.inFlight == nil {
		return domain.ErrNoPhotoInFlight
	}
	return nil
}

// Release ends the gesture and applies its verdict to the in-flight photo.
// A blocked or failed commit keeps the photo in flight; only a persistence
// failure is returned as an error. Events announcing the verdict are delivered
// before the commit changes the counts.
func (o *Orchestrator) Release(ctx context.Context) (Outcome, error) {
	o.mu.Lock()
	if err := o.checkInFlightLocked(); err != nil {
		o.mu.Unlock()
		return Outcome{}, err
	}
	verdict, err := o.classifier.Release()
	if err != nil {
		o.mu.Unlock()
		return Outcome{}, err
	}
	photo := o.inFlight
	out := Outcome{Verdict: verdict, Photo: photo}
	before := o.store.Counts()
	o.emit(Event{Signal: SignalClassified, Verdict: verdict, Photo: photo, Counts: before})

	switch verdict {
	case Cancel:
		out.Signal = SignalCancelled
	case CommitRight:
		if o.store.IsGalleryFull() {
			out.Signal = SignalGalleryFull
			break
		}
		err = o.store.CommitToGallery(ctx, photo)
		if errors.Is(err, domain.ErrCapacityExceeded) {
			out.Signal = SignalGalleryFull
			err = nil
			break
		}
		if err == nil {
			out.Collection = domain.Gallery
		}
	case CommitLeft:
		if o.store.IsTrashFull() {
			// informational, the commit proceeds
			o.emit(Event{Signal: SignalTrashEviction, Verdict: verdict, Photo: photo, Counts: before})
		}
		out.Evicted, err = o.store.CommitToTrash(ctx, photo)
		if err == nil {
			out.Collection = domain.Trash
		}
	}

	if err != nil {
		out.Signal = SignalCommitFailed
		o.logger.Error("commit failed, photo stays in flight",
			zap.String("photo", photo.ID), zap.Stringer("verdict", verdict), zap.Error(err))
	} else if out.Collection != "" {
		o.inFlight = nil
		out.Signal = SignalReadyForNext
	}
	out.Counts = o.store.Counts()
	o.mu.Unlock()

	o.emit(Event{Signal: out.Signal, Verdict: verdict, Photo: photo, Evicted: out.Evicted, Counts: out.Counts, Err: err})
	o.logger.Debug("gesture released", zap.Stringer("verdict", verdict), zap.String("signal", string(out.Signal)))
	return out, err
}

// Discard drops the in-flight photo without committing it and releases its
// bytes.
func (o *Orchestrator) Discard(ctx context.Context) (*domain.Photo, error) {
	o.mu.Lock()
	if err := o.checkInFlightLocked(); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	photo := o.inFlight
	if err := o.blobs.Remove(photo.SourceURI); err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("while discarding %s: %w: %w", photo.ID, domain.ErrPersistence, err)
	}
	o.inFlight = nil
	o.classifier.Reset()
	o.mu.Unlock()

	o.logger.Info("discarded in-flight photo", zap.String("photo", photo.ID))
	o.emit(Event{Signal: SignalDiscarded, Photo: photo, Counts: o.store.Counts()})
	return photo, nil
}

// Reconcile releases orphaned blobs, keeping the in-flight photo's bytes. It
// fails with ErrBusy while a capture is running.
func (o *Orchestrator) Reconcile(ctx context.Context) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return nil, fmt.Errorf("while reconciling: %w", domain.ErrBusy)
	}
	var keep []string
	if o.inFlight != nil {
		keep = append(keep, o.inFlight.SourceURI)
	}
	return o.store.Reconcile(ctx, keep...)
}
