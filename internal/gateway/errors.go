package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"

	"collabrooms/internal/access"
	"collabrooms/internal/persistence"
	"collabrooms/internal/protocol"
	"collabrooms/internal/room"
	"collabrooms/internal/terminal"
)

const (
	CodeValidation       = "validation"
	CodeNotFound         = "not-found"
	CodePermissionDenied = "permission-denied"
	CodeUpstream         = "upstream"
	CodeRateLimited      = "rate-limited"
)

// EventError is a failure scoped to the connection that sent the event.
type EventError struct {
	Code    string
	Message string
}

func (e *EventError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func eventError(code, message string) *EventError {
	return &EventError{Code: code, Message: message}
}

func validation(format string, args ...any) *EventError {
	return eventError(CodeValidation, fmt.Sprintf(format, args...))
}

// classify maps any handler error onto the error taxonomy.
func classify(event string, err error) *EventError {
	var ee *EventError
	if errors.As(err, &ee) {
		return ee
	}
	var ve *protocol.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, protocol.ErrUnknownEvent), errors.Is(err, persistence.ErrInvalidPath):
		return eventError(CodeValidation, err.Error())
	case errors.Is(err, room.ErrFileExists):
		return eventError(CodeValidation, err.Error())
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrFileNotFound),
		errors.Is(err, persistence.ErrNotFound), errors.Is(err, terminal.ErrNoSession):
		return eventError(CodeNotFound, err.Error())
	case errors.Is(err, room.ErrMaxEditors), errors.Is(err, room.ErrNotParticipant), errors.Is(err, access.ErrDenied):
		return eventError(CodePermissionDenied, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return eventError(CodeUpstream, "request timed out")
	}
	log.Printf("%s failed: %v", event, err)
	return eventError(CodeUpstream, "internal error")
}

func errorPayload(event string, ee *EventError) protocol.ErrorPayload {
	return protocol.ErrorPayload{Event: event, Code: ee.Code, Message: ee.Message}
}
