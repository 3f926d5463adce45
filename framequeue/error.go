package framequeue

import "fmt"

type constError string

const (
	// ErrInvalidRank may be returned from [New].
	ErrInvalidRank = constError("invalid hardware rank")
	// ErrInvalidBytesPerFrame may be returned from [New].
	ErrInvalidBytesPerFrame = constError("invalid bytes per frame")
)

func (errStr constError) Error() string { return string(errStr) }

func rankError(rank float64) error {
	return fmt.Errorf(
		"%w: must be within [0,1] but %g was requested",
		ErrInvalidRank, rank)
}

func bytesPerFrameError(ratio float64) error {
	return fmt.Errorf(
		"%w: must be >0 but %g was requested",
		ErrInvalidBytesPerFrame, ratio)
}
