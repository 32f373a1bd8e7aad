package cubetiling

import (
	"fmt"
	"math"
)

// CubeTiling is the flat tiling record consumed by the cube kernels.
// Field order is the serialized layout, see ABIFields.
type CubeTiling struct {
	BatchDim int32 `json:"batch_dim" yaml:"batch_dim"`
	NDim     int32 `json:"n_dim" yaml:"n_dim"`
	MDim     int32 `json:"m_dim" yaml:"m_dim"`
	KDim     int32 `json:"k_dim" yaml:"k_dim"`
	GroupDim int32 `json:"group_dim" yaml:"group_dim"`

	ML0 int32 `json:"m_l0" yaml:"m_l0"`
	KL0 int32 `json:"k_l0" yaml:"k_l0"`
	NL0 int32 `json:"n_l0" yaml:"n_l0"`

	MAL1     int32 `json:"m_al1" yaml:"m_al1"`
	KAL1     int32 `json:"k_al1" yaml:"k_al1"`
	KBL1     int32 `json:"k_bl1" yaml:"k_bl1"`
	NBL1     int32 `json:"n_bl1" yaml:"n_bl1"`
	DbAL1    int32 `json:"db_al1" yaml:"db_al1"`
	DbBL1    int32 `json:"db_bl1" yaml:"db_bl1"`
	DbL0A    int32 `json:"db_l0a" yaml:"db_l0a"`
	DbL0B    int32 `json:"db_l0b" yaml:"db_l0b"`
	DbL0C    int32 `json:"db_l0c" yaml:"db_l0c"`
	AL1Bound int32 `json:"al1_bound" yaml:"al1_bound"`
	BL1Bound int32 `json:"bl1_bound" yaml:"bl1_bound"`
	Ho       int32 `json:"ho" yaml:"ho"`

	NCub  int32 `json:"n_cub" yaml:"n_cub"`
	DbCub int32 `json:"db_cub" yaml:"db_cub"`
	KAub  int32 `json:"k_aub" yaml:"k_aub"`
	MAub  int32 `json:"m_aub" yaml:"m_aub"`
	DbAub int32 `json:"db_aub" yaml:"db_aub"`
	KBub  int32 `json:"k_bub" yaml:"k_bub"`
	NBub  int32 `json:"n_bub" yaml:"n_bub"`
	DbBub int32 `json:"db_bub" yaml:"db_bub"`
	WiBub int32 `json:"wi_bub" yaml:"wi_bub"`

	// Run info derived from the fields above.
	BlockDim        int32 `json:"block_dim" yaml:"block_dim"`
	MAL1DivML0      int32 `json:"m_al1_div_m_l0" yaml:"m_al1_div_m_l0"`
	NBL1DivNL0      int32 `json:"n_bl1_div_n_l0" yaml:"n_bl1_div_n_l0"`
	KAL1DivKL0      int32 `json:"k_al1_div_k_l0" yaml:"k_al1_div_k_l0"`
	KBL1DivKL0      int32 `json:"k_bl1_div_k_l0" yaml:"k_bl1_div_k_l0"`
	MaxKL1DivMinKL1 int32 `json:"max_kl1_div_min_kl1" yaml:"max_kl1_div_min_kl1"`
	NL0DivNCub      int32 `json:"n_l0_div_n_cub" yaml:"n_l0_div_n_cub"`

	TilingID uint64 `json:"tiling_id" yaml:"tiling_id"`

	// SingleCoreFallback is set when the multi-core search found no split
	// and the whole problem was placed on one core. It is not part of the
	// ABI fields.
	SingleCoreFallback bool `json:"single_core_fallback" yaml:"single_core_fallback"`
}

func isDb(v int32) bool {
	return v == 1 || v == 2
}

// Validate checks the internal consistency of the record.
func (t *CubeTiling) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidTiling}, args...)...)
	}
	type field struct {
		name string
		v    int32
	}
	positive := []field{
		{"batch_dim", t.BatchDim}, {"n_dim", t.NDim}, {"m_dim", t.MDim}, {"k_dim", t.KDim}, {"group_dim", t.GroupDim},
		{"m_l0", t.ML0}, {"k_l0", t.KL0}, {"n_l0", t.NL0},
		{"m_al1", t.MAL1}, {"k_al1", t.KAL1}, {"k_bl1", t.KBL1}, {"n_bl1", t.NBL1},
		{"al1_bound", t.AL1Bound}, {"bl1_bound", t.BL1Bound}, {"ho", t.Ho},
		{"n_cub", t.NCub}, {"k_aub", t.KAub}, {"m_aub", t.MAub}, {"k_bub", t.KBub}, {"n_bub", t.NBub}, {"wi_bub", t.WiBub},
	}
	for _, f := range positive {
		if f.v < 1 {
			return bad("%s=%d must be positive", f.name, f.v)
		}
	}
	dbs := []field{
		{"db_al1", t.DbAL1}, {"db_bl1", t.DbBL1}, {"db_l0a", t.DbL0A}, {"db_l0b", t.DbL0B}, {"db_l0c", t.DbL0C},
		{"db_cub", t.DbCub}, {"db_aub", t.DbAub}, {"db_bub", t.DbBub},
	}
	for _, f := range dbs {
		if !isDb(f.v) {
			return bad("%s=%d must be 1 or 2", f.name, f.v)
		}
	}
	cores := int64(t.BatchDim) * int64(t.NDim) * int64(t.MDim) * int64(t.KDim) * int64(t.GroupDim)
	if cores > math.MaxInt32 || int64(t.BlockDim) != cores {
		return bad("block_dim %d != product of dims %d", t.BlockDim, cores)
	}
	if t.MAL1%t.ML0 != 0 || t.NBL1%t.NL0 != 0 || t.KAL1%t.KL0 != 0 || t.KBL1%t.KL0 != 0 {
		return bad("l1 tile %dx%d/%dx%d is not a multiple of l0 tile %dx%dx%d",
			t.MAL1, t.KAL1, t.KBL1, t.NBL1, t.ML0, t.KL0, t.NL0)
	}
	if max(t.KAL1, t.KBL1)%min(t.KAL1, t.KBL1) != 0 {
		return bad("k_al1 %d and k_bl1 %d are not nested", t.KAL1, t.KBL1)
	}
	if t.NL0%t.NCub != 0 {
		return bad("n_cub %d does not divide n_l0 %d", t.NCub, t.NL0)
	}
	if t.MAL1DivML0 != t.MAL1/t.ML0 || t.NBL1DivNL0 != t.NBL1/t.NL0 ||
		t.KAL1DivKL0 != t.KAL1/t.KL0 || t.KBL1DivKL0 != t.KBL1/t.KL0 ||
		t.MaxKL1DivMinKL1 != max(t.KAL1, t.KBL1)/min(t.KAL1, t.KBL1) || t.NL0DivNCub != t.NL0/t.NCub {
		return bad("run info is stale")
	}
	return nil
}

func (t *CubeTiling) IsValid() bool {
	return t.Validate() == nil
}

// deriveRunInfo fills the run info fields. The tile fields must be valid.
func (t *CubeTiling) deriveRunInfo() {
	t.BlockDim = t.BatchDim * t.NDim * t.MDim * t.KDim * t.GroupDim
	t.MAL1DivML0 = t.MAL1 / t.ML0
	t.NBL1DivNL0 = t.NBL1 / t.NL0
	t.KAL1DivKL0 = t.KAL1 / t.KL0
	t.KBL1DivKL0 = t.KBL1 / t.KL0
	t.MaxKL1DivMinKL1 = max(t.KAL1, t.KBL1) / min(t.KAL1, t.KBL1)
	t.NL0DivNCub = t.NL0 / t.NCub
}

// narrow converts status values to int32 fields, remembering the first
// value that does not fit.
type narrow struct {
	err error
}

func (n *narrow) set(dst *int32, name string, v int64) {
	if n.err != nil {
		return
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		n.err = fmt.Errorf("%w: %s=%d overflows int32", ErrInvalidTiling, name, v)
		return
	}
	*dst = int32(v)
}

// updateTiling copies a finished status into the flat record.
func updateTiling(st *SingleCoreStatus, t *CubeTiling) error {
	var n narrow
	n.set(&t.BatchDim, "batch_dim", st.Block.Batch)
	n.set(&t.NDim, "n_dim", st.Block.N)
	n.set(&t.MDim, "m_dim", st.Block.M)
	n.set(&t.KDim, "k_dim", st.Block.K)
	n.set(&t.GroupDim, "group_dim", st.Block.Group)

	n.set(&t.ML0, "m_l0", st.L0.M0)
	n.set(&t.KL0, "k_l0", st.L0.K0)
	n.set(&t.NL0, "n_l0", st.L0.N0)
	n.set(&t.DbL0A, "db_l0a", st.L0.DbL0A)
	n.set(&t.DbL0B, "db_l0b", st.L0.DbL0B)
	n.set(&t.DbL0C, "db_l0c", st.L0.DbL0C)

	n.set(&t.MAL1, "m_al1", st.L1.MAL1)
	n.set(&t.KAL1, "k_al1", st.L1.KAL1)
	n.set(&t.KBL1, "k_bl1", st.L1.KBL1)
	n.set(&t.NBL1, "n_bl1", st.L1.NBL1)
	n.set(&t.DbAL1, "db_al1", st.L1.DbAL1)
	n.set(&t.DbBL1, "db_bl1", st.L1.DbBL1)
	n.set(&t.AL1Bound, "al1_bound", st.L1.AL1Bound)
	n.set(&t.BL1Bound, "bl1_bound", st.L1.BL1Bound)

	n.set(&t.NCub, "n_cub", st.UB.NCub)
	n.set(&t.DbCub, "db_cub", st.UB.DbCub)
	n.set(&t.KAub, "k_aub", st.UB.KAub)
	n.set(&t.MAub, "m_aub", st.UB.MAub)
	n.set(&t.DbAub, "db_aub", st.UB.DbAub)
	n.set(&t.KBub, "k_bub", st.UB.KBub)
	n.set(&t.NBub, "n_bub", st.UB.NBub)
	n.set(&t.DbBub, "db_bub", st.UB.DbBub)
	n.set(&t.WiBub, "wi_bub", st.UB.WiBub)
	if n.err != nil {
		return n.err
	}
	t.SingleCoreFallback = st.Fallback
	t.deriveRunInfo()
	return nil
}

// abiFields lists the int32 fields in serialized order.
func (t *CubeTiling) abiFields() []*int32 {
	return []*int32{
		&t.BatchDim, &t.NDim, &t.MDim, &t.KDim, &t.GroupDim,
		&t.ML0, &t.KL0, &t.NL0,
		&t.MAL1, &t.KAL1, &t.KBL1, &t.NBL1,
		&t.DbAL1, &t.DbBL1, &t.DbL0A, &t.DbL0B, &t.DbL0C,
		&t.AL1Bound, &t.BL1Bound, &t.Ho,
		&t.NCub, &t.DbCub, &t.KAub, &t.MAub, &t.DbAub, &t.KBub, &t.NBub, &t.DbBub, &t.WiBub,
		&t.BlockDim, &t.MAL1DivML0, &t.NBL1DivNL0, &t.KAL1DivKL0, &t.KBL1DivKL0, &t.MaxKL1DivMinKL1, &t.NL0DivNCub,
	}
}

// ABIFieldCount is the number of int32 fields in the serialized record.
var ABIFieldCount = len((&CubeTiling{}).abiFields())

// ABIFields returns the int32 fields in serialized order. The tiling id
// travels separately.
func (t CubeTiling) ABIFields() []int32 {
	ptrs := t.abiFields()
	out := make([]int32, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

// TilingFromABI rebuilds a record from serialized fields.
func TilingFromABI(fields []int32, id uint64) (CubeTiling, error) {
	var t CubeTiling
	ptrs := t.abiFields()
	if len(fields) != len(ptrs) {
		return CubeTiling{}, fmt.Errorf("%w: got %d fields, want %d", ErrInvalidTiling, len(fields), len(ptrs))
	}
	for i, p := range ptrs {
		*p = fields[i]
	}
	t.TilingID = id
	return t, nil
}
