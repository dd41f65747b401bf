package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown submissions, labels, records and models.
	ErrNotFound = errors.New("not found")

	// ErrEmptyContent is returned when a submission assembles to zero bytes.
	ErrEmptyContent = errors.New("empty content")
)

// DetectionFailedError carries the reason reported by the detection capability.
type DetectionFailedError struct {
	Reason string
}

func (e *DetectionFailedError) Error() string {
	return fmt.Sprintf("face detection failed: %s", e.Reason)
}

// RecognitionFailedError carries the reason reported by the recognition capability.
type RecognitionFailedError struct {
	Reason string
}

func (e *RecognitionFailedError) Error() string {
	return fmt.Sprintf("face recognition failed: %s", e.Reason)
}

// IdentityMismatchError is the business-rule rejection of a recognized label.
type IdentityMismatchError struct {
	Got  string
	Want string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("identity mismatch: detected %q instead of %q", e.Got, e.Want)
}

// ResourceExhaustedError reports a failed region growth. It is raised as a
// trap by the page store, never returned from a successful call path.
type ResourceExhaustedError struct {
	Region    RegionID
	Requested uint64 // pages
	Limit     uint64 // pages, 0 if the backend reported the failure
	Cause     error
}

func (e *ResourceExhaustedError) Error() string {
	msg := fmt.Sprintf("resource exhausted: growing region %s to %d pages", e.Region, e.Requested)
	if e.Limit > 0 {
		msg += fmt.Sprintf(" (limit %d)", e.Limit)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResourceExhaustedError) Unwrap() error { return e.Cause }

// IsResourceExhausted reports whether err is or wraps a ResourceExhaustedError.
func IsResourceExhausted(err error) bool {
	var re *ResourceExhaustedError
	return errors.As(err, &re)
}
