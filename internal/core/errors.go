package core

import (
	"errors"
	"fmt"

	"PerpIndex/internal/event"
)

// ErrMalformedEvent marks an event missing a required field. The event is
// rejected whole (nothing is applied) and must not be retried.
var ErrMalformedEvent = errors.New("malformed event")

func malformed(id event.ID, et event.EventType, field string) error {
	return fmt.Errorf("%w: %s %s: missing %s", ErrMalformedEvent, et, id, field)
}

// PrimaryStoreError wraps a failed write to the primary store. The event
// is considered unprocessed; the caller must retry delivery. The store's
// atomicity guarantee means no partial state became visible.
type PrimaryStoreError struct {
	ID  event.ID
	Err error
}

func (e *PrimaryStoreError) Error() string {
	return fmt.Sprintf("primary store write failed for event %s: %v", e.ID, e.Err)
}

func (e *PrimaryStoreError) Unwrap() error { return e.Err }
