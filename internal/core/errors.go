package core

import "errors"

var (
	// ErrTypeMismatch marks a value that cannot be represented as required.
	// It is always recovered per field: the field becomes null.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrExternal marks a failure of a platform collaborator (download,
	// schema fetch, record query or submit).
	ErrExternal = errors.New("external service failure")

	// ErrRunNotFound is returned when a run id is unknown or expired.
	ErrRunNotFound = errors.New("run not found")

	// ErrFileTooLarge is returned when an attachment exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNoFile is returned when a preview request carries no file.
	ErrNoFile = errors.New("no file provided")
)

// statusCoder is implemented by platform errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}
