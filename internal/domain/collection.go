package domain

import "fmt"

// GalleryCapacity is the fixed number of photos the gallery can keep.
const GalleryCapacity = 15

// Collection names one of the two bounded collections.
type Collection string

const (
	Gallery Collection = "gallery"
	Trash   Collection = "trash"
)

// ParseCollection converts user input into a Collection.
func ParseCollection(s string) (Collection, error) {
	switch Collection(s) {
	case Gallery, Trash:
		return Collection(s), nil
	default:
		return "", fmt.Errorf("unknown collection %q (want %q or %q)", s, Gallery, Trash)
	}
}

// BoundedCollection is an ordered set of photos, oldest insertion first.
type BoundedCollection struct {
	Name     Collection
	Items    []*Photo
	Capacity int
}

// IsFull reports whether the collection has no room left.
func IsFull(c *BoundedCollection) bool {
	return len(c.Items) >= c.Capacity
}

// EvictionCandidate returns the oldest photo by CapturedAt. On equal timestamps
// the earliest inserted one wins.
func EvictionCandidate(c *BoundedCollection) (*Photo, bool) {
	if len(c.Items) == 0 {
		return nil, false
	}
	oldest := c.Items[0]
	for _, p := range c.Items[1:] {
		if p.CapturedAt.Before(oldest.CapturedAt) {
			oldest = p
		}
	}
	return oldest, true
}

// Counts is the observable state of both collections.
type Counts struct {
	Gallery         int  `json:"gallery"`
	GalleryCapacity int  `json:"gallery_capacity"`
	Trash           int  `json:"trash"`
	TrashCapacity   int  `json:"trash_capacity"`
	GalleryFull     bool `json:"gallery_full"`
	TrashFull       bool `json:"trash_full"`
}
