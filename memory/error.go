package memory

import "fmt"

type constError string

const (
	// ErrInvalidUnits may be returned from [New].
	ErrInvalidUnits = constError("invalid units")
	// ErrInvalidSize may be returned from [New].
	ErrInvalidSize = constError("invalid size")
)

func (errStr constError) Error() string { return string(errStr) }

func unitsError(units Units) error {
	return fmt.Errorf(
		"%w: %q is not a known unit",
		ErrInvalidUnits, units)
}

func sizeError(size float64) error {
	return fmt.Errorf(
		"%w: must be >=0 but %g was requested",
		ErrInvalidSize, size)
}
