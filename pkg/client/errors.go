package client

import "errors"

// Error codes carried in Response.Code.
const (
	CodeNotFound          = "not_found"
	CodeEmptyContent      = "empty_content"
	CodeDetectionFailed   = "detection_failed"
	CodeRecognitionFailed = "recognition_failed"
	CodeIdentityMismatch  = "identity_mismatch"
	CodeResourceExhausted = "resource_exhausted"
	CodeUnavailable       = "unavailable"
	CodeBadRequest        = "bad_request"
	CodeInternal          = "internal"
)

// Error is a failure reported by the server.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return "artgate: " + e.Message
}

// Is matches errors by code so that errors.Is(err, client.ErrNotFound)
// works for any not-found reply.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrEmptyContent      = &Error{Code: CodeEmptyContent, Message: "empty content"}
	ErrIdentityMismatch  = &Error{Code: CodeIdentityMismatch, Message: "identity mismatch"}
	ErrResourceExhausted = &Error{Code: CodeResourceExhausted, Message: "resource exhausted"}
)
