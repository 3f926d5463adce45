package imagecache

import (
	"fmt"
	"time"
)

type constError string

const (
	// ErrInvalidConfig may be returned from [New].
	ErrInvalidConfig = constError("invalid config")
	// ErrInvalidRequest may be returned from [Bucket.Request].
	ErrInvalidRequest = constError("invalid request")
	// ErrBucketCleared may be returned from [Bucket.Request].
	ErrBucketCleared = constError("bucket cleared")
	// ErrBucketExists may be returned from [Controller.NewBucket].
	ErrBucketExists = constError("bucket exists")
)

func (errStr constError) Error() string { return string(errStr) }

func configError(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
}

func timeoutError(timeout time.Duration) error {
	return fmt.Errorf(
		"%w: load timeout must be >=0 but %v was requested",
		ErrInvalidConfig, timeout)
}

func requestError(props RequestProps) error {
	return fmt.Errorf(
		"%w: url %q with size %v",
		ErrInvalidRequest, props.URL, props.Size)
}

func bucketClearedError(name string) error {
	return fmt.Errorf("%w: %s", ErrBucketCleared, name)
}

func bucketExistsError(name string) error {
	return fmt.Errorf("%w: %s", ErrBucketExists, name)
}
