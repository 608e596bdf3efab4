// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package recorder

import "errors"

// PermanentError marks a handler failure that retrying cannot fix,
// such as a malformed payload. The pipeline's poison filter diverts it
// to the poison queue without spending retry attempts on it.
type PermanentError struct {
	Message string
	Cause   error
}

// NewPermanentError wraps a non-retryable failure.
func NewPermanentError(message string, cause error) *PermanentError {
	return &PermanentError{Message: message, Cause: cause}
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// IsPermanentError reports whether err is (or wraps) a PermanentError.
func IsPermanentError(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
