package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Result is the staged outcome rendered to callers as
// {success, stage, message, data}. Status is the HTTP-equivalent code.
type Result struct {
	Success bool   `json:"success"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Status  int    `json:"-"`
}

// Succeeded builds a 200 result for stage.
func Succeeded(stage Stage, message string, data any) Result {
	return Result{Success: true, Stage: stage, Message: message, Data: data, Status: http.StatusOK}
}

// Failed renders err as a result. Errors without a stage tag are attributed to
// fallback with a 500 status.
func Failed(err error, fallback Stage) Result {
	var vErr *Error
	if errors.As(err, &vErr) {
		return Result{
			Stage:   vErr.Stage,
			Message: vErr.Message,
			Data:    map[string]string{"error": vErr.Error()},
			Status:  vErr.Status,
		}
	}
	return Result{
		Stage:   fallback,
		Message: err.Error(),
		Data:    map[string]string{"error": err.Error()},
		Status:  http.StatusInternalServerError,
	}
}

// Error is a pipeline failure tagged with the stage that raised it. The stage is
// set where the error is created and never inferred from the message.
type Error struct {
	Stage   Stage
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// IsCallerError reports whether the failure is attributable to the caller.
func (e *Error) IsCallerError() bool {
	return e.Status >= 400 && e.Status < 500
}

// NewError creates a stage-tagged error.
func NewError(stage Stage, status int, message string) *Error {
	return &Error{Stage: stage, Status: status, Message: message}
}

// WrapError tags err with stage and status. The message defaults to err's text.
func WrapError(err error, stage Stage, status int, message string) *Error {
	if message == "" {
		message = err.Error()
	}
	return &Error{Stage: stage, Status: status, Message: message, Err: err}
}

// BadRequest is a caller error at stage.
func BadRequest(stage Stage, message string) *Error {
	return NewError(stage, http.StatusBadRequest, message)
}

// Internal is a server-side failure at stage.
func Internal(stage Stage, message string) *Error {
	return NewError(stage, http.StatusInternalServerError, message)
}

// StageOf returns the stage carried by err, or fallback when err is untagged.
func StageOf(err error, fallback Stage) Stage {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr.Stage
	}
	return fallback
}
