package errors

import (
	stderr "errors"
	"fmt"

	"github.com/gofrs/uuid"
)

// SessionNotFoundError indicates that no editor session is connected under an id.
type SessionNotFoundError struct {
	UUID uuid.UUID
}

// Error is an implementation of the error interface.
func (n *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s is not connected", n.UUID)
}

// IsSessionNotFound reports whether a SessionNotFoundError is part of the error chain.
func IsSessionNotFound(e error) bool {
	var nf *SessionNotFoundError
	return stderr.As(e, &nf)
}

// NoSessionFoundError indicates that a request context carries no session id.
type NoSessionFoundError struct{}

// Error is an implementation of the error interface.
func (n *NoSessionFoundError) Error() string {
	return "no session found in context"
}
