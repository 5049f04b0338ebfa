package domain

import "errors"

// Domain errors.
var (
	// ErrNotFound is returned when a stored value does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBusy is returned when an exclusive operation is already in flight.
	ErrBusy = errors.New("operation already in progress")

	// ErrRateLimited is returned when the remote service answers with HTTP 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrURLExpired is returned when a media URL is no longer authorized.
	ErrURLExpired = errors.New("media URL has expired")

	// ErrEmptyCatalog is returned when an export is requested with no items.
	ErrEmptyCatalog = errors.New("catalog is empty")

	// ErrNoPostID is returned when an item cannot be deleted remotely.
	ErrNoPostID = errors.New("item has no post id")

	// ErrArchiveTooLarge is returned when an archive exceeds the 32-bit ZIP limits.
	ErrArchiveTooLarge = errors.New("archive exceeds zip limits")

	// ErrInvalidIdentity is returned when no identity cookie is present.
	ErrInvalidIdentity = errors.New("no identity cookie present")

	// ErrExportFailed is returned when any media fetch of an export fails.
	ErrExportFailed = errors.New("export failed")
)

// ItemError wraps an error with catalog item context.
type ItemError struct {
	Key string
	Op  string
	Err error
}

func (e *ItemError) Error() string {
	if e.Key != "" {
		return e.Op + " [" + e.Key + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// NewItemError creates a new ItemError.
func NewItemError(key, op string, err error) *ItemError {
	return &ItemError{
		Key: key,
		Op:  op,
		Err: err,
	}
}
