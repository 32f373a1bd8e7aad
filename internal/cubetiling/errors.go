package cubetiling

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParam is returned for out-of-range shapes, attributes or platform values.
	ErrInvalidParam = errors.New("cubetiling: invalid parameters")
	// ErrUnknownOpType is returned when no family is registered for the op type.
	ErrUnknownOpType = errors.New("cubetiling: unknown op type")
	// ErrInfeasible is returned when a calculator finds no tiling that fits the buffers.
	ErrInfeasible = errors.New("cubetiling: no feasible tiling")
	// ErrInvalidTiling is returned when a produced tiling fails its own validity check.
	ErrInvalidTiling = errors.New("cubetiling: invalid tiling")
	// ErrTilingID is returned when a variant flag does not fit its bit field.
	ErrTilingID = errors.New("cubetiling: tiling id overflow")
)

// Stage names one step of the tiling pipeline.
type Stage string

const (
	StageOrigShape Stage = "orig_shape"
	StageBlockDims Stage = "block_dims"
	StageL0        Stage = "l0"
	StageL1        Stage = "l1"
	StageUB        Stage = "ub"
	StageTilingID  Stage = "tiling_id"
	StageUpdate    Stage = "update"
)

// StageError records the pipeline stage that failed.
type StageError struct {
	Op    OpType
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s stage: %v", e.Op, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage recorded in err, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
