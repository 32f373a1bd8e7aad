package opdesc

import "errors"

var (
	// ErrInvalidDescriptor is returned for descriptors that cannot be turned into tiling params.
	ErrInvalidDescriptor = errors.New("opdesc: invalid descriptor")
	// ErrUnknownEncoding is returned when a file is neither JSON nor YAML.
	ErrUnknownEncoding = errors.New("opdesc: unknown encoding")
)
