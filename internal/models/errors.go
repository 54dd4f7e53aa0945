package models

import "errors"

var (
	// ErrInvalidPredictionSet marks a malformed rank/probability sequence.
	ErrInvalidPredictionSet = errors.New("invalid prediction set")
	// ErrInvalidCoordinate marks a latitude/longitude outside the valid range.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// ValidationError describes rejected input. errors.Is matches it against
// ErrInvalidPredictionSet or ErrInvalidCoordinate.
type ValidationError struct {
	Field  string
	Reason string
	kind   error
}

func (e *ValidationError) Error() string {
	return e.kind.Error() + ": " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.kind }
