package cubetiling

import (
	"fmt"
	"math"
)

// DimFactor is a multi-core split: how many cores share each axis.
type DimFactor struct {
	Batch int64 `json:"batch"`
	N     int64 `json:"n"`
	M     int64 `json:"m"`
	K     int64 `json:"k"`
	Group int64 `json:"group"`
}

// Cores is the number of cores the split occupies.
func (d DimFactor) Cores() int64 {
	return satMul(d.Batch, d.N, d.M, d.K, d.Group)
}

func (d DimFactor) IsValid() bool {
	if d.Batch < 1 || d.N < 1 || d.M < 1 || d.K < 1 || d.Group < 1 {
		return false
	}
	return d.Cores() <= math.MaxInt32
}

// SingleCore holds the per-core extents implied by a DimFactor.
type SingleCore struct {
	Batch int64 `json:"batch"`
	Group int64 `json:"group"`
	M     int64 `json:"m"`
	K     int64 `json:"k"`
	N     int64 `json:"n"`
}

// L0Status is the tile held in L0A/L0B/L0C, in blocks.
type L0Status struct {
	M0    int64 `json:"m0"`
	K0    int64 `json:"k0"`
	N0    int64 `json:"n0"`
	DbL0A int64 `json:"db_l0a"`
	DbL0B int64 `json:"db_l0b"`
	DbL0C int64 `json:"db_l0c"`
}

// LoadType says which operands stay resident in L1 for the whole core loop.
type LoadType uint8

const (
	LoadNeither LoadType = iota
	LoadFullA
	LoadFullB
	LoadFullAB
)

func (l LoadType) String() string {
	switch l {
	case LoadFullA:
		return "full_a"
	case LoadFullB:
		return "full_b"
	case LoadFullAB:
		return "full_ab"
	default:
		return "neither"
	}
}

// Attach values of an L1 operand relative to the core loop.
const (
	attachFull   = 0
	attachKFull  = 1
	attachInLoop = 2
)

// L1Status is the staging tile in L1. Bounds are bytes.
type L1Status struct {
	MAL1        int64    `json:"m_al1"`
	KAL1        int64    `json:"k_al1"`
	KBL1        int64    `json:"k_bl1"`
	NBL1        int64    `json:"n_bl1"`
	DbAL1       int64    `json:"db_al1"`
	DbBL1       int64    `json:"db_bl1"`
	AL1Bound    int64    `json:"al1_bound"`
	BL1Bound    int64    `json:"bl1_bound"`
	BiasBytes   int64    `json:"bias_bytes"`
	LoadType    LoadType `json:"load_type"`
	AL1Attach   int64    `json:"al1_attach"`
	BL1Attach   int64    `json:"bl1_attach"`
	ABKL1Attach int64    `json:"abkl1_attach"`
}

// Used is the L1 footprint including double buffers.
func (s L1Status) Used() int64 {
	return s.AL1Bound*s.DbAL1 + s.BL1Bound*s.DbBL1 + s.BiasBytes
}

// UbStatus is the unified-buffer plan.
type UbStatus struct {
	NCub     int64 `json:"n_cub"`
	DbCub    int64 `json:"db_cub"`
	KAub     int64 `json:"k_aub"`
	MAub     int64 `json:"m_aub"`
	DbAub    int64 `json:"db_aub"`
	KBub     int64 `json:"k_bub"`
	NBub     int64 `json:"n_bub"`
	DbBub    int64 `json:"db_bub"`
	WiBub    int64 `json:"wi_bub"`
	CubBytes int64 `json:"cub_bytes"`
	AubBytes int64 `json:"aub_bytes"`
	BubBytes int64 `json:"bub_bytes"`
	AubUsed  bool  `json:"aub_used"`
	BubUsed  bool  `json:"bub_used"`
}

// Used is the UB footprint including double buffers.
func (s UbStatus) Used() int64 {
	return s.CubBytes*s.DbCub + s.AubBytes*s.DbAub + s.BubBytes*s.DbBub
}

// SingleCoreStatus is the working state shared by the calculators of one
// tiling run.
type SingleCoreStatus struct {
	Shape    TilingShape `json:"shape"`
	Block    DimFactor   `json:"block"`
	Single   SingleCore  `json:"single"`
	L0       L0Status    `json:"l0"`
	L1       L1Status    `json:"l1"`
	UB       UbStatus    `json:"ub"`
	Fallback bool        `json:"fallback"`
}

func (s *SingleCoreStatus) setBlock(d DimFactor) {
	s.Block = d
	s.Single = SingleCore{
		Batch: ceilDiv(s.Shape.Batch, d.Batch),
		Group: ceilDiv(s.Shape.Group, d.Group),
		M:     ceilDiv(s.Shape.M, d.M),
		K:     ceilDiv(s.Shape.K, d.K),
		N:     ceilDiv(s.Shape.N, d.N),
	}
}

// Init resets the status for a search over shape.
func (s *SingleCoreStatus) Init(shape TilingShape) {
	*s = SingleCoreStatus{Shape: shape}
}

// Clear drops the state of the last search.
func (s *SingleCoreStatus) Clear() {
	*s = SingleCoreStatus{}
}

// checkCapacity recomputes the footprints of st against the platform.
func checkCapacity(pr *problem, st *SingleCoreStatus) error {
	plat := pr.plat
	l0, l1, ub := st.L0, st.L1, st.UB
	checks := []struct {
		name     string
		used, sz int64
	}{
		{"block dims", st.Block.Cores(), plat.CoreNum},
		{"L0A footprint", satMul(l0.M0, l0.K0, fractalBytes, l0.DbL0A), plat.L0ASize},
		{"L0B footprint", satMul(l0.K0, l0.N0, fractalBytes, l0.DbL0B), plat.L0BSize},
		{"L0C footprint", satMul(l0.M0, l0.N0, 256*accBytes, l0.DbL0C), plat.L0CSize},
		{"L1 footprint", satAdd(satAdd(satMul(l1.AL1Bound, l1.DbAL1), satMul(l1.BL1Bound, l1.DbBL1)), l1.BiasBytes), plat.L1Size},
		{"UB footprint", satAdd(satAdd(satMul(ub.CubBytes, ub.DbCub), satMul(ub.AubBytes, ub.DbAub)), satMul(ub.BubBytes, ub.DbBub)), plat.UBSize},
	}
	for _, c := range checks {
		if c.used > c.sz {
			return fmt.Errorf("%w: %s %d exceeds capacity %d", ErrInvalidTiling, c.name, c.used, c.sz)
		}
	}
	return nil
}
