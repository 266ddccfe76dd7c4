package types

import (
	"errors"

	appErr "github.com/arch-studio/engine/pkg/errors"
)

// FromAppError converts err into the error body of an APIResponse. Errors without
// a code are reported as internal without leaking their text.
func FromAppError(err error) *APIError {
	if err == nil {
		return nil
	}
	var e *appErr.AppError
	if errors.As(err, &e) {
		out := &APIError{Code: string(e.Code), Message: e.Message}
		if e.Code == appErr.CodeInternal || e.Code == appErr.CodeUnknown {
			out.Message = "internal error"
		}
		if len(e.Meta) > 0 {
			out.Details = e.Meta
		}
		return out
	}
	return &APIError{Code: string(appErr.CodeInternal), Message: "internal error"}
}
