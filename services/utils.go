package services

import (
	"errors"
	"log/slog"

	"github.com/mbocsi/accesswatch/proto"
	"github.com/mbocsi/accesswatch/store"
)

// publish wraps payload in a message of msgType and hands it to pub.
func publish(pub Publisher, msgType string, payload any) {
	if pub == nil {
		return
	}
	msg, err := proto.NewMessage(msgType, payload)
	if err != nil {
		slog.Warn("Failed to build realtime message", "type", msgType, "error", err)
		return
	}
	pub.Publish(msg)
}

// storeError converts a repository error to a ServiceError
func storeError(err error, what, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return ServiceError{
			Code:    ErrCodeNotFound,
			Message: what + " not found: " + id,
		}
	}
	return ServiceError{
		Code:    ErrCodeInternal,
		Message: "Failed to access " + what,
		Cause:   err,
	}
}

func invalidInput(msg string, cause error) error {
	return ServiceError{
		Code:    ErrCodeInvalidInput,
		Message: msg,
		Cause:   cause,
	}
}
