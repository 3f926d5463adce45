package network

import "fmt"

type constError string

// ErrInvalidMaxLoaders may be returned from [New].
const ErrInvalidMaxLoaders = constError("invalid max loaders")

func (errStr constError) Error() string { return string(errStr) }

func maxLoadersError(loaders int) error {
	return fmt.Errorf(
		"%w: must be >=1 but %d was requested",
		ErrInvalidMaxLoaders, loaders)
}
