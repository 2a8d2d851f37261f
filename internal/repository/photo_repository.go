package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matcontt/tindercam/internal/domain"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const photoColumns = `id, collection, source_uri, width, height, checksum, captured_at, position`

// PhotoRepository implements domain.PhotoRepository on sqlite
type PhotoRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPhotoRepository creates a new PhotoRepository
func NewPhotoRepository(db *sql.DB) *PhotoRepository {
	return &PhotoRepository{db: db, now: time.Now}
}

// ListByCollection returns the members of a collection in insertion order
func (r *PhotoRepository) ListByCollection(ctx context.Context, collection domain.Collection) ([]*domain.StoredPhoto, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE collection = ? ORDER BY position ASC`, string(collection))
	if err != nil {
		return nil, fmt.Errorf("while listing %s: %w", collection, err)
	}
	defer rows.Close()

	var result []*domain.StoredPhoto
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("while reading %s row: %w", collection, err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// Admit inserts photo into collection, deleting evictID first in the same
// transaction when it is not empty. Either both changes are durable or neither.
// The member count is checked against capacity inside the transaction.
func (r *PhotoRepository) Admit(ctx context.Context, photo *domain.Photo, collection domain.Collection, capacity int, evictID string) (*domain.StoredPhoto, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("while starting admit transaction: %w", err)
	}
	defer tx.Rollback()

	if evictID != "" {
		res, err := tx.ExecContext(ctx, `DELETE FROM photos WHERE id = ? AND collection = ?`, evictID, string(collection))
		if err != nil {
			return nil, fmt.Errorf("while evicting %s from %s: %w", evictID, collection, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n != 1 {
			return nil, fmt.Errorf("while evicting %s from %s: %w", evictID, collection, domain.ErrNotFound)
		}
	}

	var members int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos WHERE collection = ?`, string(collection)).Scan(&members); err != nil {
		return nil, fmt.Errorf("while counting %s: %w", collection, err)
	}
	if members >= capacity {
		return nil, fmt.Errorf("while inserting %s into %s (%d/%d): %w", photo.ID, collection, members, capacity, domain.ErrCapacityExceeded)
	}

	var position int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) + 1 FROM photos`).Scan(&position); err != nil {
		return nil, fmt.Errorf("while allocating position: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO photos (id, collection, source_uri, width, height, checksum, captured_at, position, committed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		photo.ID, string(collection), photo.SourceURI, photo.Width, photo.Height, photo.Checksum,
		photo.CapturedAt.UnixNano(), position, r.now().UnixNano())
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return nil, fmt.Errorf("while inserting %s: %w", photo.ID, domain.ErrDuplicatePhoto)
		}
		return nil, fmt.Errorf("while inserting %s into %s: %w", photo.ID, collection, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("while committing admit transaction: %w", err)
	}
	return &domain.StoredPhoto{Photo: *photo, Collection: collection, Position: position}, nil
}

// GetByID retrieves a stored photo, nil when absent
func (r *PhotoRepository) GetByID(ctx context.Context, id string) (*domain.StoredPhoto, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = ?`, id)
	p, err := scanPhoto(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// Delete permanently removes a photo row
func (r *PhotoRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("while deleting %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("while deleting %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CountByCollection returns the number of members of a collection
func (r *PhotoRepository) CountByCollection(ctx context.Context, collection domain.Collection) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos WHERE collection = ?`, string(collection)).Scan(&count)
	return count, err
}

// ListSourceURIs returns every source uri referenced by a stored photo
func (r *PhotoRepository) ListSourceURIs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT source_uri FROM photos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	uris := make(map[string]struct{})
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		uris[uri] = struct{}{}
	}
	return uris, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPhoto(s scanner) (*domain.StoredPhoto, error) {
	var (
		p          domain.StoredPhoto
		collection string
		capturedAt int64
	)
	err := s.Scan(&p.ID, &collection, &p.SourceURI, &p.Width, &p.Height, &p.Checksum, &capturedAt, &p.Position)
	if err != nil {
		return nil, err
	}
	p.Collection = domain.Collection(collection)
	p.CapturedAt = time.Unix(0, capturedAt).UTC()
	return &p, nil
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// Verify that PhotoRepository implements domain.PhotoRepository
var _ domain.PhotoRepository = (*PhotoRepository)(nil)
