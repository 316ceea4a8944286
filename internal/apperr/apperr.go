package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every failure surfaced to a client wraps exactly one of these.
var (
	ErrAuthentication  = errors.New("authentication failed")
	ErrDocumentFormat  = errors.New("invalid document")
	ErrOCREngine       = errors.New("ocr engine failure")
	ErrExtractionModel = errors.New("invalid model reply")
	ErrUpstream        = errors.New("upstream failure")
	ErrBadRequest      = errors.New("bad request")
)

// Error carries a kind, a human-readable message and the underlying cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newf(kind error, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Authentication(format string, args ...any) *Error {
	return newf(ErrAuthentication, nil, format, args...)
}

func AuthenticationWrap(err error, format string, args ...any) *Error {
	return newf(ErrAuthentication, err, format, args...)
}

func DocumentFormat(err error, format string, args ...any) *Error {
	return newf(ErrDocumentFormat, err, format, args...)
}

func OCREngine(err error, format string, args ...any) *Error {
	return newf(ErrOCREngine, err, format, args...)
}

func ExtractionModel(err error, format string, args ...any) *Error {
	return newf(ErrExtractionModel, err, format, args...)
}

func Upstream(err error, format string, args ...any) *Error {
	return newf(ErrUpstream, err, format, args...)
}

func BadRequest(format string, args ...any) *Error {
	return newf(ErrBadRequest, nil, format, args...)
}

// Status maps an error to the HTTP status category it belongs to.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrDocumentFormat), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message for err. Server-side failures
// share the "processing failed" prefix whether or not they are classified.
func Message(err error) string {
	msg := err.Error()
	var ae *Error
	if errors.As(err, &ae) {
		msg = ae.Error()
	}
	if Status(err) >= http.StatusInternalServerError {
		return "processing failed: " + msg
	}
	return msg
}
