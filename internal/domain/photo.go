package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Photo is a captured image reference. It is immutable once created and owned
// by exactly one of: the gallery, the trash, or the orchestrator while in-flight.
type Photo struct {
	ID         string    `json:"id" validate:"required"`
	SourceURI  string    `json:"source_uri" validate:"required"`
	Width      int       `json:"width" validate:"gt=0"`
	Height     int       `json:"height" validate:"gt=0"`
	Checksum   string    `json:"checksum,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Validate checks the structural invariants of a photo reference.
func (p *Photo) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil photo", ErrInvalidPhoto)
	}
	if err := validate.Struct(p); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(fieldErrs))
			for _, e := range fieldErrs {
				msgs = append(msgs, formatFieldError(e))
			}
			return fmt.Errorf("%w: %s", ErrInvalidPhoto, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %s", ErrInvalidPhoto, err)
	}
	if p.CapturedAt.IsZero() {
		return fmt.Errorf("%w: captured_at is required", ErrInvalidPhoto)
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// StoredPhoto is a photo together with the collection that currently owns it.
type StoredPhoto struct {
	Photo
	Collection Collection
	Position   int64
}

// PhotoRepository is the durable membership ledger behind the photo store.
type PhotoRepository interface {
	// ListByCollection returns the members of a collection in insertion order
	ListByCollection(ctx context.Context, collection Collection) ([]*StoredPhoto, error)

	// Admit inserts the photo into the collection. When evictID is not empty the
	// photo with that id is deleted in the same transaction. It fails with
	// ErrCapacityExceeded when the collection would hold more than capacity.
	Admit(ctx context.Context, photo *Photo, collection Collection, capacity int, evictID string) (*StoredPhoto, error)

	// GetByID retrieves a stored photo, nil when absent
	GetByID(ctx context.Context, id string) (*StoredPhoto, error)

	// Delete permanently removes a photo row
	Delete(ctx context.Context, id string) error

	// CountByCollection returns the number of members of a collection
	CountByCollection(ctx context.Context, collection Collection) (int64, error)
}
