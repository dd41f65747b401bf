package serve

import (
	"errors"
	"net/http"

	"github.com/gftdcojp/artgate/internal/service"
	"github.com/gftdcojp/artgate/internal/types"
	"github.com/gftdcojp/artgate/pkg/client"
)

// badRequest marks errors caused by a malformed request.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func invalid(msg string) error { return &badRequest{msg: msg} }

// errorCode classifies err into a wire error code.
func errorCode(err error) string {
	var (
		bad  *badRequest
		det  *types.DetectionFailedError
		rec  *types.RecognitionFailedError
		mism *types.IdentityMismatchError
	)
	switch {
	case errors.As(err, &bad):
		return client.CodeBadRequest
	case errors.Is(err, types.ErrNotFound):
		return client.CodeNotFound
	case errors.Is(err, types.ErrEmptyContent):
		return client.CodeEmptyContent
	case errors.As(err, &det):
		return client.CodeDetectionFailed
	case errors.As(err, &rec):
		return client.CodeRecognitionFailed
	case errors.As(err, &mism):
		return client.CodeIdentityMismatch
	case types.IsResourceExhausted(err):
		return client.CodeResourceExhausted
	case errors.Is(err, service.ErrUnavailable):
		return client.CodeUnavailable
	default:
		return client.CodeInternal
	}
}

func httpStatus(code string) int {
	switch code {
	case client.CodeBadRequest:
		return http.StatusBadRequest
	case client.CodeNotFound:
		return http.StatusNotFound
	case client.CodeEmptyContent, client.CodeDetectionFailed, client.CodeRecognitionFailed:
		return http.StatusUnprocessableEntity
	case client.CodeIdentityMismatch:
		return http.StatusConflict
	case client.CodeResourceExhausted:
		return http.StatusInsufficientStorage
	case client.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
