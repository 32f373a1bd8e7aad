package cubetiling

import "testing"

func testPlatform() PlatformInfo {
	return PlatformInfo{
		SocVersion: "test",
		CoreNum:    24,
		L0ASize:    64 << 10,
		L0BSize:    64 << 10,
		L0CSize:    64 << 10,
		L1Size:     512 << 10,
		UBSize:     256 << 10,
	}
}

func matmulParam(m, k, n int64) CubeTilingParam {
	return CubeTilingParam{
		OpType:   OpMatMul,
		Platform: testPlatform(),
		A:        Shape{Batch: 1, H: m, W: k},
		B:        Shape{Batch: 1, H: k, W: n},
		ADType:   Float16,
		BDType:   Float16,
		CDType:   Float16,
	}
}

func convParam(op OpType, a, b, c Shape, attrs ConvAttrs) CubeTilingParam {
	return CubeTilingParam{
		OpType:   op,
		Platform: testPlatform(),
		A:        a,
		B:        b,
		C:        c,
		ADType:   Float16,
		BDType:   Float16,
		CDType:   Float16,
		AFormat:  FormatNC1HWC0,
		BFormat:  FormatFractalZ,
		Conv:     attrs,
	}
}

// runImpl drives a session directly so the test can inspect the status.
func runImpl(t *testing.T, p CubeTilingParam) (CubeTiling, SingleCoreStatus) {
	t.Helper()
	impl, err := NewImpl(p.OpType)
	if err != nil {
		t.Fatalf("NewImpl(%s): %v", p.OpType, err)
	}
	if err := impl.Init(&p); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer impl.Clear()
	var out CubeTiling
	if err := impl.GenTiling(&out); err != nil {
		t.Fatalf("GenTiling: %v", err)
	}
	return out, impl.Status()
}

// checkFootprint asserts the buffer inequalities of a finished tiling.
func checkFootprint(t *testing.T, p CubeTilingParam, out CubeTiling, st SingleCoreStatus) {
	t.Helper()
	plat := p.Platform
	if err := out.Validate(); err != nil {
		t.Fatalf("tiling invalid: %v", err)
	}
	if int64(out.BlockDim) > plat.CoreNum {
		t.Fatalf("block_dim %d exceeds core_num %d", out.BlockDim, plat.CoreNum)
	}
	if got := int64(out.ML0) * int64(out.KL0) * 512 * int64(out.DbL0A); got > plat.L0ASize {
		t.Fatalf("L0A footprint %d > %d", got, plat.L0ASize)
	}
	if got := int64(out.KL0) * int64(out.NL0) * 512 * int64(out.DbL0B); got > plat.L0BSize {
		t.Fatalf("L0B footprint %d > %d", got, plat.L0BSize)
	}
	if got := int64(out.ML0) * int64(out.NL0) * 256 * 4 * int64(out.DbL0C); got > plat.L0CSize {
		t.Fatalf("L0C footprint %d > %d", got, plat.L0CSize)
	}
	l1 := int64(out.AL1Bound)*int64(out.DbAL1) + int64(out.BL1Bound)*int64(out.DbBL1) + st.L1.BiasBytes
	if l1 > plat.L1Size {
		t.Fatalf("L1 footprint %d > %d", l1, plat.L1Size)
	}
	if st.UB.Used() > plat.UBSize {
		t.Fatalf("UB footprint %d > %d", st.UB.Used(), plat.UBSize)
	}
}
