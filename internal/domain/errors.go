package domain

import "errors"

var (
	// ErrCaptureFailure means the capture session could not produce a photo.
	ErrCaptureFailure = errors.New("capture failed")
	// ErrCapacityExceeded means the gallery is full.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrPersistence means a commit could not be made durable. Nothing was changed.
	ErrPersistence = errors.New("persistence failure")

	ErrOutOfOrder      = errors.New("photo captured before the newest member of the collection")
	ErrNotFound        = errors.New("photo not found")
	ErrInvalidPhoto    = errors.New("invalid photo")
	ErrDuplicatePhoto  = errors.New("photo already stored")
	ErrPhotoInFlight   = errors.New("a photo is already awaiting disposition")
	ErrNoPhotoInFlight = errors.New("no photo awaiting disposition")
	ErrBusy            = errors.New("another capture or commit is in progress")
	ErrGestureActive   = errors.New("gesture already active")
	ErrGestureIdle     = errors.New("no active gesture")
	ErrInvalidSample   = errors.New("invalid gesture sample")
)
