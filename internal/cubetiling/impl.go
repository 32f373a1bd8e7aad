package cubetiling

import (
	"fmt"

	"github.com/samcharles93/cubetile/internal/logger"
)

// Impl runs the tiling pipeline for one op type. An Impl is not safe for
// concurrent use; the session cache hands each caller its own.
type Impl struct {
	opType OpType
	fam    *family
	params *CubeTilingParam
	pr     problem
	status SingleCoreStatus
	log    logger.Logger

	blockDims blockDimsCalculator
	l0        l0Calculator
	l1        l1Calculator
	ub        ubCalculator
}

// NewImpl returns a pipeline for op.
func NewImpl(op OpType) (*Impl, error) {
	fam, ok := lookupFamily(op)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOpType, op)
	}
	return &Impl{opType: op, fam: fam, log: logger.Nop()}, nil
}

func (i *Impl) OpType() OpType {
	return i.opType
}

// SetLogger sets the logger used by the calculators.
func (i *Impl) SetLogger(log logger.Logger) {
	if log == nil {
		log = logger.Nop()
	}
	i.log = log
}

// Init validates params, borrows them until Clear and derives the
// canonical problem.
func (i *Impl) Init(params *CubeTilingParam) error {
	if params == nil {
		return fmt.Errorf("%w: nil params", ErrInvalidParam)
	}
	if params.OpType != i.opType {
		return fmt.Errorf("%w: %s session got %s params", ErrInvalidParam, i.opType, params.OpType)
	}
	if err := params.Validate(); err != nil {
		return err
	}
	i.params = params
	i.pr = problem{}
	baseProblem(params, i.fam, &i.pr)
	i.fam.setOrigShape(params, &i.pr)
	i.fam.checkSpecialTemplate(&i.pr)
	i.status.Init(i.pr.shape)
	return nil
}

// Shape is the canonical problem of the current params.
func (i *Impl) Shape() TilingShape {
	return i.pr.shape
}

// Status is the working state of the last GenTiling call.
func (i *Impl) Status() SingleCoreStatus {
	return i.status
}

// CycleModelUnsupported reports whether tuned tilings from a repository
// cannot be used for the current params.
func (i *Impl) CycleModelUnsupported() bool {
	return i.fam.checkCycleModelUnsupport(&i.pr)
}

type calculator interface {
	Init(pr *problem, st *SingleCoreStatus, log logger.Logger)
	Exec() bool
	Clear()
}

// GenTiling runs block dims, L0, L1 and UB in order and fills tiling.
func (i *Impl) GenTiling(tiling *CubeTiling) error {
	if i.params == nil {
		return fmt.Errorf("%w: impl not initialised", ErrInvalidParam)
	}
	if tiling == nil {
		return fmt.Errorf("%w: nil tiling", ErrInvalidParam)
	}
	i.status.Init(i.pr.shape)

	stages := []struct {
		stage Stage
		calc  calculator
	}{
		{StageBlockDims, &i.blockDims},
		{StageL0, &i.l0},
		{StageL1, &i.l1},
		{StageUB, &i.ub},
	}
	for _, s := range stages {
		s.calc.Init(&i.pr, &i.status, i.log)
	}
	defer func() {
		for _, s := range stages {
			s.calc.Clear()
		}
	}()
	for _, s := range stages {
		if !s.calc.Exec() {
			return &StageError{Op: i.opType, Stage: s.stage, Err: ErrInfeasible}
		}
	}
	if err := checkCapacity(&i.pr, &i.status); err != nil {
		return &StageError{Op: i.opType, Stage: StageUpdate, Err: err}
	}
	return i.finish(tiling)
}

// ApplyTuned replays a recorded tiling against the current params. The
// split and tile sizes are kept; footprints, run info and the tiling id
// are rebuilt from the params, and the tiling is rejected when it does
// not fit the platform.
func (i *Impl) ApplyTuned(tuned, tiling *CubeTiling) error {
	if i.params == nil {
		return fmt.Errorf("%w: impl not initialised", ErrInvalidParam)
	}
	if tuned == nil || tiling == nil {
		return fmt.Errorf("%w: nil tiling", ErrInvalidParam)
	}
	if err := tuned.Validate(); err != nil {
		return err
	}
	i.status.Init(i.pr.shape)
	block := DimFactor{
		Batch: int64(tuned.BatchDim),
		N:     int64(tuned.NDim),
		M:     int64(tuned.MDim),
		K:     int64(tuned.KDim),
		Group: int64(tuned.GroupDim),
	}
	if block.K > 1 && !i.pr.kSplit {
		return fmt.Errorf("%w: %s does not split k across cores", ErrInvalidTiling, i.opType)
	}
	i.status.setBlock(block)

	i.status.L0 = L0Status{
		M0:    int64(tuned.ML0),
		K0:    int64(tuned.KL0),
		N0:    int64(tuned.NL0),
		DbL0A: int64(tuned.DbL0A),
		DbL0B: int64(tuned.DbL0B),
		DbL0C: int64(tuned.DbL0C),
	}
	l1 := L1Status{
		MAL1:  int64(tuned.MAL1),
		KAL1:  int64(tuned.KAL1),
		KBL1:  int64(tuned.KBL1),
		NBL1:  int64(tuned.NBL1),
		DbAL1: int64(tuned.DbAL1),
		DbBL1: int64(tuned.DbBL1),
	}
	l1.AL1Bound = i.pr.aL1Bound(l1.MAL1, l1.KAL1)
	l1.BL1Bound = i.pr.bL1Bound(l1.KBL1, l1.NBL1)
	l1.BiasBytes = i.pr.biasL1Bytes(l1.NBL1)
	classifyL1(&l1, i.status.L0, i.status.Single)
	i.status.L1 = l1

	i.ub.Init(&i.pr, &i.status, i.log)
	defer i.ub.Clear()
	i.ub.replay(tuned)

	if err := checkCapacity(&i.pr, &i.status); err != nil {
		return err
	}
	return i.finish(tiling)
}

// finish writes the status of the last search into tiling.
func (i *Impl) finish(tiling *CubeTiling) error {
	var out CubeTiling
	if err := updateTiling(&i.status, &out); err != nil {
		return &StageError{Op: i.opType, Stage: StageUpdate, Err: err}
	}
	i.fam.setTiling(&i.pr, &i.status, &i.ub, &out)

	idParam := tilingIDParam(&i.pr, &i.status)
	id, err := encodeTilingID(i.fam.layout, &idParam)
	if err != nil {
		return &StageError{Op: i.opType, Stage: StageTilingID, Err: err}
	}
	out.TilingID = id
	*tiling = out
	return nil
}

// Clear releases the borrowed params.
func (i *Impl) Clear() {
	i.params = nil
	i.pr = problem{}
	i.status.Clear()
}
