package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/internal/opdesc"
	"github.com/samcharles93/cubetile/internal/platform"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// ResponseError is the body of every error response.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// classify maps a tiling error to an HTTP status, error type and code.
// The code carries the failing pipeline stage when there is one.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, opdesc.ErrInvalidDescriptor),
		errors.Is(err, opdesc.ErrUnknownEncoding),
		errors.Is(err, cubetiling.ErrInvalidParam),
		errors.Is(err, cubetiling.ErrTilingID):
		return http.StatusBadRequest, "invalid_request_error", ""
	case errors.Is(err, cubetiling.ErrUnknownOpType):
		return http.StatusBadRequest, "invalid_request_error", "unknown_op_type"
	case errors.Is(err, platform.ErrUnknownPlatform):
		return http.StatusBadRequest, "invalid_request_error", "unknown_platform"
	case errors.Is(err, cubetiling.ErrInfeasible):
		code := "infeasible"
		if st, ok := cubetiling.FailedStage(err); ok {
			code = string(st)
		}
		return http.StatusUnprocessableEntity, "tiling_error", code
	default:
		return http.StatusInternalServerError, "server_error", ""
	}
}
