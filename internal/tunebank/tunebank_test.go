package tunebank

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/internal/platform"
)

func referenceParam(t *testing.T) cubetiling.CubeTilingParam {
	t.Helper()
	prof, err := platform.NewRegistry().Lookup("reference")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return cubetiling.CubeTilingParam{
		OpType:   cubetiling.OpMatMul,
		Platform: prof.Info(),
		A:        cubetiling.Shape{Batch: 1, H: 512, W: 512},
		B:        cubetiling.Shape{Batch: 1, H: 512, W: 512},
		ADType:   cubetiling.Float16,
		BDType:   cubetiling.Float16,
		CDType:   cubetiling.Float16,
	}
}

// searched returns the tiling the search finds for p and its canonical shape.
func searched(t *testing.T, p cubetiling.CubeTilingParam) (cubetiling.CubeTiling, cubetiling.TilingShape) {
	t.Helper()
	impl, err := cubetiling.NewImpl(p.OpType)
	if err != nil {
		t.Fatalf("NewImpl: %v", err)
	}
	if err := impl.Init(&p); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer impl.Clear()
	var out cubetiling.CubeTiling
	if err := impl.GenTiling(&out); err != nil {
		t.Fatalf("GenTiling: %v", err)
	}
	return out, impl.Shape()
}

func TestBankServesTiler(t *testing.T) {
	t.Parallel()
	p := referenceParam(t)
	tiling, shape := searched(t, p)
	if tiling.BlockDim == 1 {
		t.Fatal("expected a multi-core search result")
	}
	// same tiles on a single core
	tuned := tiling
	tuned.BatchDim, tuned.NDim, tuned.MDim, tuned.KDim, tuned.GroupDim = 1, 1, 1, 1, 1
	tuned.BlockDim = 1

	bank := New()
	key := Key{OpType: p.OpType, SocVersion: "REFERENCE", Shape: shape}
	if err := bank.Add(key, tuned); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tiler := cubetiling.NewTiler(cubetiling.WithRepository(bank))
	got, err := tiler.GenTiling(context.Background(), &p)
	if err != nil {
		t.Fatalf("GenTiling: %v", err)
	}
	if got.BlockDim != 1 || got.ML0 != tuned.ML0 || got.KAL1 != tuned.KAL1 {
		t.Fatalf("tuned tiling not used: %+v", got)
	}
	if bank.Hits() != 1 {
		t.Fatalf("hits: got %d want 1", bank.Hits())
	}

	other := p
	other.A.H = 256
	got, err = tiler.GenTiling(context.Background(), &other)
	if err != nil {
		t.Fatalf("GenTiling miss: %v", err)
	}
	if bank.Hits() != 1 {
		t.Fatal("a different shape picked up the tuned entry")
	}
}

func TestBankEntryRecheckedAgainstPlatform(t *testing.T) {
	t.Parallel()
	p := referenceParam(t)
	p.A = cubetiling.Shape{Batch: 1, H: 1024, W: 1024}
	p.B = cubetiling.Shape{Batch: 1, H: 1024, W: 1024}
	p.AFormat, p.BFormat = cubetiling.FormatNZ, cubetiling.FormatNZ
	p.Platform.L1Size = 1 << 20
	tiling, shape := searched(t, p)

	bank := New()
	if err := bank.Add(Key{OpType: p.OpType, SocVersion: p.Platform.SocVersion, Shape: shape}, tiling); err != nil {
		t.Fatalf("Add: %v", err)
	}

	small := p
	small.Platform.L1Size = 64 << 10
	small.Bias = true
	got, err := cubetiling.NewTiler(cubetiling.WithRepository(bank)).GenTiling(context.Background(), &small)
	if err != nil {
		t.Fatalf("GenTiling: %v", err)
	}
	if bank.Hits() != 1 {
		t.Fatalf("hits: got %d want 1", bank.Hits())
	}
	l1 := int64(got.AL1Bound)*int64(got.DbAL1) + int64(got.BL1Bound)*int64(got.DbBL1) + int64(got.NBL1)*16*2
	if l1 > small.Platform.L1Size {
		t.Fatalf("L1 footprint %d exceeds capacity %d", l1, small.Platform.L1Size)
	}
	fields, err := cubetiling.DecodeTilingID(p.OpType, got.TilingID)
	if err != nil {
		t.Fatalf("DecodeTilingID: %v", err)
	}
	bias := uint64(0)
	for _, f := range fields {
		if f.Name == "bias" {
			bias = f.Value
		}
	}
	if bias != 1 {
		t.Fatalf("bias bit missing from tiling id %#x", got.TilingID)
	}
}

func TestBankRejectsInvalidTiling(t *testing.T) {
	t.Parallel()
	tiling, shape := searched(t, referenceParam(t))
	tiling.KL0 = 0
	if err := New().Add(Key{OpType: cubetiling.OpMatMul, Shape: shape}, tiling); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
	if err := New().Add(Key{}, tiling); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry for empty key, got %v", err)
	}
}

func TestBankFileRoundTrip(t *testing.T) {
	t.Parallel()
	p := referenceParam(t)
	tiling, shape := searched(t, p)
	wide := p
	wide.A.W, wide.B.H = 1024, 1024
	tiling2, shape2 := searched(t, wide)

	bank := New()
	if err := bank.Add(Key{OpType: p.OpType, SocVersion: "reference", Shape: shape}, tiling); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := bank.Add(Key{OpType: p.OpType, SocVersion: "ascend910", Shape: shape2}, tiling2); err != nil {
		t.Fatalf("Add: %v", err)
	}

	for _, name := range []string{"bank.yaml", "bank.json"} {
		path := filepath.Join(t.TempDir(), name)
		if err := bank.WriteFile(path); err != nil {
			t.Fatalf("%s: WriteFile: %v", name, err)
		}
		loaded := New()
		n, err := loaded.LoadFile(path)
		if err != nil {
			t.Fatalf("%s: LoadFile: %v", name, err)
		}
		if n != 2 {
			t.Fatalf("%s: loaded %d entries", name, n)
		}
		if diff := cmp.Diff(bank.Entries(), loaded.Entries()); diff != "" {
			t.Fatalf("%s: entries mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestBankLoadRejectsDocument(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		doc    string
		asJSON bool
	}{
		{"unknown yaml field", "entries:\n  - op_type: MatMul\n    shapes: {}\n", false},
		{"invalid tiling", "entries:\n  - op_type: MatMul\n    soc_version: x\n    tiling: {m_l0: 1}\n", false},
		{"missing op", `{"entries":[{"soc_version":"x"}]}`, true},
		{"bad json", `{"entries":`, true},
	}
	for _, tc := range tests {
		b := New()
		if _, err := b.Load([]byte(tc.doc), tc.asJSON); err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
		if b.Len() != 0 {
			t.Errorf("%s: rejected document left %d entries", tc.name, b.Len())
		}
	}
	if n, err := New().Load(nil, false); err != nil || n != 0 {
		t.Fatalf("empty yaml: n=%d err=%v", n, err)
	}
}
