package disposition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/matcontt/tindercam/internal/domain"
	"go.uber.org/zap"
)

// BlobStore holds the image bytes a photo's SourceURI points to.
type BlobStore interface {
	Write(uri string, r io.Reader) (int64, error)
	Open(uri string) (io.ReadCloser, error)
	Remove(uri string) error
	List() ([]string, error)
}

type sourceLister interface {
	ListSourceURIs(ctx context.Context) (map[string]struct{}, error)
}

// Store is the system of record for disposition outcomes. It owns the gallery
// and the trash and mirrors their durable state from the repository.
type Store struct {
	mu      sync.RWMutex
	repo    domain.PhotoRepository
	blobs   BlobStore
	gallery *domain.BoundedCollection
	trash   *domain.BoundedCollection
	logger  *zap.Logger

	obsMu     sync.Mutex
	observers map[int]func(domain.Counts)
	nextObs   int
}

// OpenStore loads both collections from repo. When the trash holds more photos
// than trashCapacity allows (the limit was lowered) the oldest are evicted. A
// gallery over capacity is refused with ErrCapacityExceeded.
func OpenStore(ctx context.Context, repo domain.PhotoRepository, blobs BlobStore, trashCapacity int, logger *zap.Logger) (*Store, error) {
	if trashCapacity <= 0 {
		return nil, fmt.Errorf("trash capacity must be positive, got %d", trashCapacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		repo:      repo,
		blobs:     blobs,
		gallery:   &domain.BoundedCollection{Name: domain.Gallery, Capacity: domain.GalleryCapacity},
		trash:     &domain.BoundedCollection{Name: domain.Trash, Capacity: trashCapacity},
		logger:    logger.Named("store"),
		observers: make(map[int]func(domain.Counts)),
	}
	for _, c := range []*domain.BoundedCollection{s.gallery, s.trash} {
		stored, err := repo.ListByCollection(ctx, c.Name)
		if err != nil {
			return nil, fmt.Errorf("while loading %s: %w: %w", c.Name, domain.ErrPersistence, err)
		}
		for _, p := range stored {
			photo := p.Photo
			c.Items = append(c.Items, &photo)
		}
	}
	if len(s.gallery.Items) > s.gallery.Capacity {
		return nil, fmt.Errorf("while loading gallery: holds %d photos: %w (capacity %d)",
			len(s.gallery.Items), domain.ErrCapacityExceeded, s.gallery.Capacity)
	}
	for len(s.trash.Items) > s.trash.Capacity {
		victim, _ := domain.EvictionCandidate(s.trash)
		if err := repo.Delete(ctx, victim.ID); err != nil {
			return nil, fmt.Errorf("while trimming trash to %d: %w: %w", trashCapacity, domain.ErrPersistence, err)
		}
		s.trash.Items = without(s.trash.Items, victim.ID)
		s.release(victim)
		s.logger.Info("trimmed trash to capacity", zap.String("photo", victim.ID), zap.Int("capacity", trashCapacity))
	}
	s.logger.Debug("loaded collections",
		zap.Int("gallery", len(s.gallery.Items)), zap.Int("trash", len(s.trash.Items)))
	return s, nil
}

// Subscribe registers fn to be called synchronously after every successful
// mutation. The returned function removes the subscription.
func (s *Store) Subscribe(fn func(domain.Counts)) (unsubscribe func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Store) notify(counts domain.Counts) {
	s.obsMu.Lock()
	fns := make([]func(domain.Counts), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range fns {
		fn(counts)
	}
}

// CommitToGallery keeps photo. It fails with ErrCapacityExceeded when the
// gallery is full and never evicts.
func (s *Store) CommitToGallery(ctx context.Context, photo *domain.Photo) error {
	if err := photo.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.checkAdmissible(s.gallery, photo); err != nil {
		s.mu.Unlock()
		return err
	}
	if domain.IsFull(s.gallery) {
		s.mu.Unlock()
		return fmt.Errorf("while keeping %s: %w", photo.ID, domain.ErrCapacityExceeded)
	}
	if _, err := s.repo.Admit(ctx, photo, domain.Gallery, s.gallery.Capacity, ""); err != nil {
		s.mu.Unlock()
		return persistenceError("keeping "+photo.ID, err)
	}
	s.gallery.Items = append(s.gallery.Items, photo)
	s.checkBounds(s.gallery)
	counts := s.countsLocked()
	s.mu.Unlock()

	s.logger.Info("kept photo", zap.String("photo", photo.ID), zap.Int("gallery", counts.Gallery))
	s.notify(counts)
	return nil
}

// CommitToTrash discards photo. A full trash first evicts its oldest photo,
// whose bytes are released once the eviction is durable. The evicted photo is
// returned, nil when nothing was evicted.
func (s *Store) CommitToTrash(ctx context.Context, photo *domain.Photo) (*domain.Photo, error) {
	if err := photo.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if err := s.checkAdmissible(s.trash, photo); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var evicted *domain.Photo
	evictID := ""
	if domain.IsFull(s.trash) {
		evicted, _ = domain.EvictionCandidate(s.trash)
		evictID = evicted.ID
	}
	if _, err := s.repo.Admit(ctx, photo, domain.Trash, s.trash.Capacity, evictID); err != nil {
		s.mu.Unlock()
		return nil, persistenceError("discarding "+photo.ID, err)
	}
	if evicted != nil {
		s.trash.Items = without(s.trash.Items, evicted.ID)
	}
	s.trash.Items = append(s.trash.Items, photo)
	s.checkBounds(s.trash)
	counts := s.countsLocked()
	s.mu.Unlock()

	if evicted != nil {
		s.release(evicted)
		s.logger.Info("evicted oldest trash photo", zap.String("photo", evicted.ID), zap.Time("captured_at", evicted.CapturedAt))
	}
	s.logger.Info("discarded photo", zap.String("photo", photo.ID), zap.Int("trash", counts.Trash))
	s.notify(counts)
	return evicted, nil
}

// Delete permanently removes a stored photo from whichever collection holds it
// and releases its bytes.
func (s *Store) Delete(ctx context.Context, id string) (*domain.Photo, domain.Collection, error) {
	s.mu.Lock()
	photo, c := s.findLocked(id)
	if photo == nil {
		s.mu.Unlock()
		return nil, "", fmt.Errorf("while deleting %s: %w", id, domain.ErrNotFound)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.mu.Unlock()
		return nil, "", persistenceError("deleting "+id, err)
	}
	c.Items = without(c.Items, id)
	counts := s.countsLocked()
	s.mu.Unlock()

	s.release(photo)
	s.logger.Info("deleted photo", zap.String("photo", id), zap.String("collection", string(c.Name)))
	s.notify(counts)
	return photo, c.Name, nil
}

// Reconcile releases every blob no stored photo references. URIs listed in
// keep (an in-flight photo) are left alone. It returns the released uris.
func (s *Store) Reconcile(ctx context.Context, keep ...string) ([]string, error) {
	uris, err := s.blobs.List()
	if err != nil {
		return nil, fmt.Errorf("while listing blobs: %w", err)
	}
	referenced := make(map[string]struct{})
	for _, uri := range keep {
		referenced[uri] = struct{}{}
	}
	s.mu.RLock()
	for _, c := range []*domain.BoundedCollection{s.gallery, s.trash} {
		for _, p := range c.Items {
			referenced[p.SourceURI] = struct{}{}
		}
	}
	s.mu.RUnlock()
	if lister, ok := s.repo.(sourceLister); ok {
		rows, err := lister.ListSourceURIs(ctx)
		if err != nil {
			return nil, persistenceError("listing referenced blobs", err)
		}
		for uri := range rows {
			referenced[uri] = struct{}{}
		}
	}

	var released []string
	for _, uri := range uris {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		if _, ok := referenced[uri]; ok {
			continue
		}
		if err := s.blobs.Remove(uri); err != nil {
			return released, err
		}
		released = append(released, uri)
	}
	if len(released) > 0 {
		s.logger.Info("released orphaned blobs", zap.Int("count", len(released)))
	}
	return released, nil
}

// GalleryCount returns the number of kept photos.
func (s *Store) GalleryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gallery.Items)
}

// TrashCount returns the number of discarded photos.
func (s *Store) TrashCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trash.Items)
}

// IsGalleryFull reports whether a right swipe would be refused.
func (s *Store) IsGalleryFull() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.IsFull(s.gallery)
}

// IsTrashFull reports whether the next discard evicts the oldest trash photo.
func (s *Store) IsTrashFull() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.IsFull(s.trash)
}

// Counts returns a consistent snapshot of both collections.
func (s *Store) Counts() domain.Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsLocked()
}

// Gallery returns the kept photos, oldest insertion first.
func (s *Store) Gallery() []*domain.Photo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*domain.Photo(nil), s.gallery.Items...)
}

// Trash returns the discarded photos, oldest insertion first.
func (s *Store) Trash() []*domain.Photo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*domain.Photo(nil), s.trash.Items...)
}

// List returns the photos of one collection.
func (s *Store) List(c domain.Collection) []*domain.Photo {
	if c == domain.Trash {
		return s.Trash()
	}
	return s.Gallery()
}

// Get finds a stored photo by id.
func (s *Store) Get(id string) (*domain.Photo, domain.Collection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, c := s.findLocked(id)
	if p == nil {
		return nil, "", false
	}
	return p, c.Name, true
}

// Newest returns the latest capture time of any stored photo.
func (s *Store) Newest() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest time.Time
	for _, c := range []*domain.BoundedCollection{s.gallery, s.trash} {
		for _, p := range c.Items {
			if p.CapturedAt.After(newest) {
				newest = p.CapturedAt
			}
		}
	}
	return newest
}

// OpenBlob returns the bytes of a stored photo.
func (s *Store) OpenBlob(id string) (io.ReadCloser, *domain.Photo, error) {
	p, _, ok := s.Get(id)
	if !ok {
		return nil, nil, fmt.Errorf("while opening %s: %w", id, domain.ErrNotFound)
	}
	r, err := s.blobs.Open(p.SourceURI)
	if err != nil {
		return nil, nil, err
	}
	return r, p, nil
}

func (s *Store) countsLocked() domain.Counts {
	return domain.Counts{
		Gallery:         len(s.gallery.Items),
		GalleryCapacity: s.gallery.Capacity,
		Trash:           len(s.trash.Items),
		TrashCapacity:   s.trash.Capacity,
		GalleryFull:     domain.IsFull(s.gallery),
		TrashFull:       domain.IsFull(s.trash),
	}
}

func (s *Store) findLocked(id string) (*domain.Photo, *domain.BoundedCollection) {
	for _, c := range []*domain.BoundedCollection{s.gallery, s.trash} {
		for _, p := range c.Items {
			if p.ID == id {
				return p, c
			}
		}
	}
	return nil, nil
}

// checkAdmissible enforces single ownership and capture order.
func (s *Store) checkAdmissible(c *domain.BoundedCollection, photo *domain.Photo) error {
	if _, owner := s.findLocked(photo.ID); owner != nil {
		return fmt.Errorf("while admitting %s to %s: %w (held by %s)", photo.ID, c.Name, domain.ErrDuplicatePhoto, owner.Name)
	}
	if n := len(c.Items); n > 0 && c.Items[n-1].CapturedAt.After(photo.CapturedAt) {
		return fmt.Errorf("while admitting %s to %s: %w", photo.ID, c.Name, domain.ErrOutOfOrder)
	}
	return nil
}

func (s *Store) checkBounds(c *domain.BoundedCollection) {
	if len(c.Items) > c.Capacity {
		s.logger.DPanic("collection over capacity", zap.String("collection", string(c.Name)),
			zap.Int("count", len(c.Items)), zap.Int("capacity", c.Capacity))
	}
}

// release frees the bytes of a destroyed photo. A failure leaves an orphan
// that Reconcile removes later.
func (s *Store) release(p *domain.Photo) {
	if s.blobs == nil {
		return
	}
	if err := s.blobs.Remove(p.SourceURI); err != nil {
		s.logger.Warn("could not release photo bytes", zap.String("photo", p.ID), zap.Error(err))
	}
}

func persistenceError(action string, err error) error {
	if errors.Is(err, domain.ErrDuplicatePhoto) || errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrCapacityExceeded) || errors.Is(err, domain.ErrPersistence) {
		return fmt.Errorf("while %s: %w", action, err)
	}
	return fmt.Errorf("while %s: %w: %w", action, domain.ErrPersistence, err)
}

func without(items []*domain.Photo, id string) []*domain.Photo {
	out := items[:0:0]
	for _, p := range items {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
