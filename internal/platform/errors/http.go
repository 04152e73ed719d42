package errors

import (
	"errors"
	"net/http"
)

// GetCode extracts the error code from any error.
// Returns CodeUnknown if the error is not a domain error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks if the error has the specified code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// HTTPStatus maps a domain error to an HTTP status code for client responses.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch GetCode(err) {
	case CodeSplitNameEmpty, CodeIdentifierTypeEmpty, CodeIdentifierValueEmpty, CodeVisitorIDEmpty:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeSessionClosed, CodeSessionUnmanaged:
		return http.StatusConflict
	case CodeIdentityUnavailable, CodeRegistryUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
