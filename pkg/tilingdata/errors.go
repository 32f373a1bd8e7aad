package tilingdata

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid tiling data magic")
	ErrUnsupportedMajor = errors.New("unsupported tiling data major version")
	ErrCorruptFile      = errors.New("corrupt tiling data file")
	ErrInvalidRecord    = errors.New("invalid tiling record")
)
