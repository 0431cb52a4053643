package pipeline

import (
	"errors"
	"fmt"
	"image"
)

var (
	// ErrSourceExhausted ends a run normally
	ErrSourceExhausted = errors.New("frame source exhausted")

	// ErrShapeMismatch is returned when two consecutive frames differ in size
	ErrShapeMismatch = errors.New("frame dimensions differ")

	// ErrDetectionFailed wraps any detector error; it aborts the run
	ErrDetectionFailed = errors.New("detection failed")
)

// ShapeMismatchError carries the sizes of the two frames being compared
type ShapeMismatchError struct {
	Prev image.Point
	Curr image.Point
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: previous %dx%d, current %dx%d",
		ErrShapeMismatch, e.Prev.X, e.Prev.Y, e.Curr.X, e.Curr.Y)
}

// Is makes errors.Is(err, ErrShapeMismatch) match
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

func detectionFailure(detector string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDetectionFailed, detector, err)
}
