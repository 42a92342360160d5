// Package common defines sentinel errors shared by repositories, services and
// the chat layer. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Caller input errors. Nothing is mutated when one of these is returned.
	ErrUnknownPosition     = errors.New("unknown position")
	ErrInvalidCount        = errors.New("invalid sentence count")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrNotRegistered       = errors.New("not registered")
	ErrNoActiveBatch       = errors.New("no active batch")
	ErrBatchInProgress     = errors.New("batch in progress")
	ErrPendingUploads      = errors.New("pending uploads")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrInvalidUsername     = errors.New("invalid username")

	// Allocation exhaustion, reported and not retried.
	ErrNoSentencesAvailable = errors.New("no sentences available")

	// Transient infrastructure failure: network, timeout, rate limiting,
	// credential refresh. Work stays pending.
	ErrTransient = errors.New("transient failure")

	// The messaging platform no longer serves a recording's audio.
	ErrArtifactUnavailable = errors.New("artifact unavailable")

	// Email or username already taken at the corpus service.
	ErrDuplicateIdentity = errors.New("duplicate identity")
)
