package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/matcontt/tindercam/internal/domain"
)

var base = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

const testTrashCapacity = 10

func testPhoto(id string, offset time.Duration) *domain.Photo {
	return &domain.Photo{
		ID:         id,
		SourceURI:  fmt.Sprintf("photos/%s.png", id),
		Width:      1080,
		Height:     1440,
		Checksum:   "sha-" + id,
		CapturedAt: base.Add(offset),
	}
}

func setupTestRepository(t *testing.T) (*PhotoRepository, context.Context) {
	t.Helper()
	db := SetupTestDB(t)
	t.Cleanup(func() { CleanupTestDB(t, db) })
	return NewPhotoRepository(db), context.Background()
}

func TestPhotoRepository_Admit(t *testing.T) {
	repo, ctx := setupTestRepository(t)

	t.Run("admits photo into gallery", func(t *testing.T) {
		stored, err := repo.Admit(ctx, testPhoto("a", 0), domain.Gallery, domain.GalleryCapacity, "")
		if err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
		if stored.Collection != domain.Gallery {
			t.Errorf("Collection = %v, want %v", stored.Collection, domain.Gallery)
		}
		if stored.Position == 0 {
			t.Error("Expected non-zero position")
		}
	})

	t.Run("rejects a photo already stored in another collection", func(t *testing.T) {
		_, err := repo.Admit(ctx, testPhoto("a", 0), domain.Trash, testTrashCapacity, "")
		if !errors.Is(err, domain.ErrDuplicatePhoto) {
			t.Fatalf("Admit() error = %v, want ErrDuplicatePhoto", err)
		}
		count, _ := repo.CountByCollection(ctx, domain.Trash)
		if count != 0 {
			t.Errorf("trash count = %d, want 0", count)
		}
	})

	t.Run("round trips fields", func(t *testing.T) {
		got, err := repo.GetByID(ctx, "a")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got == nil {
			t.Fatal("Expected photo, got nil")
		}
		want := testPhoto("a", 0)
		if got.SourceURI != want.SourceURI || got.Width != want.Width || got.Height != want.Height || got.Checksum != want.Checksum {
			t.Errorf("GetByID() = %+v, want %+v", got.Photo, *want)
		}
		if !got.CapturedAt.Equal(want.CapturedAt) {
			t.Errorf("CapturedAt = %v, want %v", got.CapturedAt, want.CapturedAt)
		}
	})
}

func TestPhotoRepository_AdmitEvicting(t *testing.T) {
	repo, ctx := setupTestRepository(t)

	for i, id := range []string{"t1", "t2", "t3"} {
		if _, err := repo.Admit(ctx, testPhoto(id, time.Duration(i)*time.Second), domain.Trash, testTrashCapacity, ""); err != nil {
			t.Fatalf("Admit(%s) error = %v", id, err)
		}
	}

	t.Run("evicts and inserts atomically", func(t *testing.T) {
		if _, err := repo.Admit(ctx, testPhoto("t4", 3*time.Second), domain.Trash, testTrashCapacity, "t1"); err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
		photos, err := repo.ListByCollection(ctx, domain.Trash)
		if err != nil {
			t.Fatalf("ListByCollection() error = %v", err)
		}
		var ids []string
		for _, p := range photos {
			ids = append(ids, p.ID)
		}
		if fmt.Sprint(ids) != "[t2 t3 t4]" {
			t.Errorf("trash = %v, want [t2 t3 t4]", ids)
		}
	})

	t.Run("rolls back the eviction when the insert fails", func(t *testing.T) {
		// t2 is already stored, so the insert violates the primary key
		_, err := repo.Admit(ctx, testPhoto("t2", 4*time.Second), domain.Trash, testTrashCapacity, "t3")
		if !errors.Is(err, domain.ErrDuplicatePhoto) {
			t.Fatalf("Admit() error = %v, want ErrDuplicatePhoto", err)
		}
		got, _ := repo.GetByID(ctx, "t3")
		if got == nil {
			t.Error("t3 should survive a failed admit")
		}
	})

	t.Run("fails when the eviction target is missing", func(t *testing.T) {
		_, err := repo.Admit(ctx, testPhoto("t5", 5*time.Second), domain.Trash, testTrashCapacity, "ghost")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Admit() error = %v, want ErrNotFound", err)
		}
		got, _ := repo.GetByID(ctx, "t5")
		if got != nil {
			t.Error("t5 should not be inserted")
		}
	})
}

func TestPhotoRepository_ListByCollection(t *testing.T) {
	repo, ctx := setupTestRepository(t)

	repo.Admit(ctx, testPhoto("g1", 0), domain.Gallery, domain.GalleryCapacity, "")
	repo.Admit(ctx, testPhoto("t1", time.Second), domain.Trash, testTrashCapacity, "")
	repo.Admit(ctx, testPhoto("g2", 2*time.Second), domain.Gallery, domain.GalleryCapacity, "")

	t.Run("lists only the requested collection in insertion order", func(t *testing.T) {
		photos, err := repo.ListByCollection(ctx, domain.Gallery)
		if err != nil {
			t.Fatalf("ListByCollection() error = %v", err)
		}
		if len(photos) != 2 {
			t.Fatalf("Got %d photos, want 2", len(photos))
		}
		if photos[0].ID != "g1" || photos[1].ID != "g2" {
			t.Errorf("order = [%s %s], want [g1 g2]", photos[0].ID, photos[1].ID)
		}
		if photos[0].Position >= photos[1].Position {
			t.Error("positions should increase with insertion")
		}
	})

	t.Run("returns empty for an empty database collection", func(t *testing.T) {
		other, ctx := setupTestRepository(t)
		photos, err := other.ListByCollection(ctx, domain.Trash)
		if err != nil {
			t.Fatalf("ListByCollection() error = %v", err)
		}
		if len(photos) != 0 {
			t.Errorf("Got %d photos, want 0", len(photos))
		}
	})
}

func TestPhotoRepository_Delete(t *testing.T) {
	repo, ctx := setupTestRepository(t)
	repo.Admit(ctx, testPhoto("g1", 0), domain.Gallery, domain.GalleryCapacity, "")

	t.Run("deletes photo", func(t *testing.T) {
		if err := repo.Delete(ctx, "g1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		deleted, err := repo.GetByID(ctx, "g1")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if deleted != nil {
			t.Error("Photo should be deleted")
		}
	})

	t.Run("reports missing photo", func(t *testing.T) {
		if err := repo.Delete(ctx, "g1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Delete() error = %v, want ErrNotFound", err)
		}
	})
}

func TestPhotoRepository_CountAndURIs(t *testing.T) {
	repo, ctx := setupTestRepository(t)
	repo.Admit(ctx, testPhoto("g1", 0), domain.Gallery, domain.GalleryCapacity, "")
	repo.Admit(ctx, testPhoto("g2", time.Second), domain.Gallery, domain.GalleryCapacity, "")
	repo.Admit(ctx, testPhoto("t1", 2*time.Second), domain.Trash, testTrashCapacity, "")

	count, err := repo.CountByCollection(ctx, domain.Gallery)
	if err != nil {
		t.Fatalf("CountByCollection() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count = %v, want 2", count)
	}

	uris, err := repo.ListSourceURIs(ctx)
	if err != nil {
		t.Fatalf("ListSourceURIs() error = %v", err)
	}
	if len(uris) != 3 {
		t.Errorf("Got %d uris, want 3", len(uris))
	}
	if _, ok := uris["photos/t1.png"]; !ok {
		t.Error("expected photos/t1.png to be referenced")
	}
}

func TestPhotoRepository_AdmitCapacity(t *testing.T) {
	repo, ctx := setupTestRepository(t)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("g%d", i)
		if _, err := repo.Admit(ctx, testPhoto(id, time.Duration(i)*time.Second), domain.Gallery, 3, ""); err != nil {
			t.Fatalf("Admit(%s) error = %v", id, err)
		}
	}

	t.Run("refuses a full collection", func(t *testing.T) {
		_, err := repo.Admit(ctx, testPhoto("g3", 3*time.Second), domain.Gallery, 3, "")
		if !errors.Is(err, domain.ErrCapacityExceeded) {
			t.Fatalf("Admit() error = %v, want ErrCapacityExceeded", err)
		}
		count, _ := repo.CountByCollection(ctx, domain.Gallery)
		if count != 3 {
			t.Errorf("gallery count = %d, want 3", count)
		}
	})

	t.Run("an eviction in the same transaction frees the slot", func(t *testing.T) {
		if _, err := repo.Admit(ctx, testPhoto("g3", 3*time.Second), domain.Gallery, 3, "g0"); err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
		count, _ := repo.CountByCollection(ctx, domain.Gallery)
		if count != 3 {
			t.Errorf("gallery count = %d, want 3", count)
		}
	})
}

func TestOpen_ExclusiveLock(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "tindercam.db")

	first, err := Open(filename)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := Migrate(first); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	second, err := Open(filename, WithBusyTimeout(0))
	if !errors.Is(err, ErrLocked) {
		if second != nil {
			second.Close()
		}
		t.Fatalf("second Open() error = %v, want ErrLocked", err)
	}

	CleanupTestDB(t, first)
	third, err := Open(filename, WithBusyTimeout(0))
	if err != nil {
		t.Fatalf("Open() after close error = %v", err)
	}
	CleanupTestDB(t, third)
}

func TestMigrate(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)

	t.Run("is idempotent", func(t *testing.T) {
		if err := Migrate(db); err != nil {
			t.Fatalf("second Migrate() error = %v", err)
		}
	})

	t.Run("reports the applied version", func(t *testing.T) {
		version, dirty, err := SchemaVersion(db)
		if err != nil {
			t.Fatalf("SchemaVersion() error = %v", err)
		}
		if version != 1 || dirty {
			t.Errorf("SchemaVersion() = %d dirty=%v, want 1 clean", version, dirty)
		}
	})

	t.Run("enforces positive dimensions", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO photos (id, collection, source_uri, width, height, captured_at, position, committed_at)
VALUES ('bad', 'gallery', 'x', 0, 10, 1, 999, 1)`)
		if err == nil {
			t.Error("Expected check constraint violation for zero width")
		}
	})
}

func BenchmarkPhotoRepository_Admit(b *testing.B) {
	db := SetupTestDB(b)
	defer db.Close()

	repo := NewPhotoRepository(db)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		repo.Admit(ctx, testPhoto(fmt.Sprintf("p%d", i), time.Duration(i)), domain.Trash, b.N, "")
	}
}
