package services

import (
	"errors"
	"fmt"
	"strings"
)

// Typed errors shared by the schedule, sequencing, progress and AI services.
// Controllers translate these into HTTP statuses; nothing below this layer
// knows about fiber.

// ValidationError carries one or more human-readable messages. A write that
// produces a ValidationError has not been applied, not even partially.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// NewValidationError builds a ValidationError from messages.
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Messages: messages}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// NotFoundError - the entity does not exist or is soft-deleted.
type NotFoundError struct {
	Resource string
	ID       uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// AuthorizationError - the caller lacks the role or ownership required.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return e.Reason
}

// IsAuthorization reports whether err is (or wraps) an AuthorizationError.
func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// ConflictError - a concurrent writer won the race; the caller should reload
// the authoritative state and retry.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// AIGenerationError - the generator timed out or produced unusable output.
// It is reported distinctly from validation failures and never unwinds work
// that completed before the generation step.
type AIGenerationError struct {
	Stage string // material, request, decode, validate, persist
	Err   error
}

func (e *AIGenerationError) Error() string {
	return fmt.Sprintf("ai generation failed at %s: %v", e.Stage, e.Err)
}

func (e *AIGenerationError) Unwrap() error { return e.Err }

// IsAIGeneration reports whether err is (or wraps) an AIGenerationError.
func IsAIGeneration(err error) bool {
	var ge *AIGenerationError
	return errors.As(err, &ge)
}
