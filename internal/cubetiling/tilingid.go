package cubetiling

import "fmt"

// TilingIDParam collects the kernel variant flags packed into a tiling id.
type TilingIDParam struct {
	BinaryMode    int64
	AL1Attach     int64
	BL1Attach     int64
	ABKL1Attach   int64
	DbAL1         bool
	DbBL1         bool
	DbL0C         bool
	DbCub         bool
	DbAub         bool
	DbBub         bool
	GroupFlag     bool
	AtomicAdd     bool
	AubUsed       bool
	BubUsed       bool
	Bias          bool
	TransA        bool
	TransB        bool
	BatchFlag     bool
	Load3DSpecial bool
	DSplit        bool
}

type idField struct {
	name   string
	offset uint
	width  uint
	value  func(*TilingIDParam) uint64
}

// IDField is one decoded bit field of a tiling id.
type IDField struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func flagField(name string, offset uint, get func(*TilingIDParam) bool) idField {
	return idField{name: name, offset: offset, width: 1, value: func(p *TilingIDParam) uint64 { return b2u(get(p)) }}
}

// Bits 0..13 are shared by every family; family bits start at 14.
var commonIDFields = []idField{
	{name: "binary_mode", offset: 0, width: 2, value: func(p *TilingIDParam) uint64 { return uint64(p.BinaryMode) }},
	{name: "al1_attach", offset: 2, width: 2, value: func(p *TilingIDParam) uint64 { return uint64(p.AL1Attach) }},
	{name: "bl1_attach", offset: 4, width: 2, value: func(p *TilingIDParam) uint64 { return uint64(p.BL1Attach) }},
	{name: "abkl1_attach", offset: 6, width: 2, value: func(p *TilingIDParam) uint64 { return uint64(p.ABKL1Attach) }},
	flagField("db_al1", 8, func(p *TilingIDParam) bool { return p.DbAL1 }),
	flagField("db_bl1", 9, func(p *TilingIDParam) bool { return p.DbBL1 }),
	flagField("db_l0c", 10, func(p *TilingIDParam) bool { return p.DbL0C }),
	flagField("db_cub", 11, func(p *TilingIDParam) bool { return p.DbCub }),
	flagField("group", 12, func(p *TilingIDParam) bool { return p.GroupFlag }),
	flagField("atomic_add", 13, func(p *TilingIDParam) bool { return p.AtomicAdd }),
}

func withCommon(fields ...idField) []idField {
	out := make([]idField, 0, len(commonIDFields)+len(fields))
	out = append(out, commonIDFields...)
	return append(out, fields...)
}

func encodeTilingID(layout []idField, p *TilingIDParam) (uint64, error) {
	var id uint64
	for _, f := range layout {
		v := f.value(p)
		if v >= 1<<f.width {
			return 0, fmt.Errorf("%w: %s=%d does not fit %d bits", ErrTilingID, f.name, v, f.width)
		}
		id |= v << f.offset
	}
	return id, nil
}

func decodeTilingID(layout []idField, id uint64) []IDField {
	out := make([]IDField, 0, len(layout))
	var known uint64
	for _, f := range layout {
		mask := uint64(1)<<f.width - 1
		known |= mask << f.offset
		out = append(out, IDField{Name: f.name, Value: id >> f.offset & mask})
	}
	if rest := id &^ known; rest != 0 {
		out = append(out, IDField{Name: "unknown", Value: rest})
	}
	return out
}

// DecodeTilingID splits an id back into the named fields of op's family.
func DecodeTilingID(op OpType, id uint64) ([]IDField, error) {
	fam, ok := lookupFamily(op)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOpType, op)
	}
	return decodeTilingID(fam.idLayout(), id), nil
}

// tilingIDParam reads the variant flags off a finished status.
func tilingIDParam(pr *problem, st *SingleCoreStatus) TilingIDParam {
	return TilingIDParam{
		BinaryMode:    pr.binaryMode,
		AL1Attach:     st.L1.AL1Attach,
		BL1Attach:     st.L1.BL1Attach,
		ABKL1Attach:   st.L1.ABKL1Attach,
		DbAL1:         st.L1.DbAL1 == 2,
		DbBL1:         st.L1.DbBL1 == 2,
		DbL0C:         st.L0.DbL0C == 2,
		DbCub:         st.UB.DbCub == 2,
		DbAub:         st.UB.AubUsed && st.UB.DbAub == 2,
		DbBub:         st.UB.BubUsed && st.UB.DbBub == 2,
		GroupFlag:     st.Shape.Group > 1,
		AtomicAdd:     pr.atomicOut(st.Block),
		AubUsed:       st.UB.AubUsed,
		BubUsed:       st.UB.BubUsed,
		Bias:          pr.bias,
		TransA:        pr.transA,
		TransB:        pr.transB,
		BatchFlag:     st.Shape.Batch > 1,
		Load3DSpecial: pr.load3dSpecial,
		DSplit:        pr.threeD && st.Shape.Dout > 1,
	}
}
