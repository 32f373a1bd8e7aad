package opdesc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/internal/platform"
)

func TestDecodeJSONSingleAndList(t *testing.T) {
	t.Parallel()
	single := `{"op_type":"MatMul","platform":"reference","a":{"shape":[1024,512]},"b":{"shape":[512,256]}}`
	ds, err := Decode([]byte(single), EncodingJSON)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(ds) != 1 || ds[0].OpType != "MatMul" {
		t.Fatalf("single: got %+v", ds)
	}

	list := `[
		{"name":"qkv","op_type":"BatchMatMul","a":{"shape":[8,128,64]},"b":{"shape":[8,64,128]}},
		{"op_type":"Conv2D","a":{"shape":[1,3,224,224]},"b":{"shape":[64,3,7,7]},"strides":[2],"pads":[3]}
	]`
	ds, err = Decode([]byte(list), EncodingJSON)
	if err != nil {
		t.Fatalf("Decode list: %v", err)
	}
	if len(ds) != 2 || ds[0].Label() != "qkv" || ds[1].Label() != "Conv2D" {
		t.Fatalf("list: got %+v", ds)
	}

	if _, err := Decode([]byte(`{"op_type":"MatMul","shapes":[]}`), EncodingJSON); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("unknown field: expected ErrInvalidDescriptor, got %v", err)
	}
	if _, err := Decode([]byte("  "), EncodingJSON); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("empty: expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestDecodeYAMLMatchesJSON(t *testing.T) {
	t.Parallel()
	js := `{"op_type":"Conv2DBackpropFilter","platform":"ascend910","a":{"shape":[2,64,28,28]},
		"b":{"shape":[2,32,28,28],"format":"NCHW"},"c":{"shape":[64,32,3,3]},"pads":[1,1,1,1]}`
	ym := `
op_type: Conv2DBackpropFilter
platform: ascend910
a: {shape: [2, 64, 28, 28]}
b: {shape: [2, 32, 28, 28], format: NCHW}
c: {shape: [64, 32, 3, 3]}
pads: [1, 1, 1, 1]
`
	fromJSON, err := Decode([]byte(js), EncodingJSON)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	fromYAML, err := Decode([]byte(ym), EncodingYAML)
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if diff := cmp.Diff(fromJSON, fromYAML); diff != "" {
		t.Fatalf("json and yaml disagree (-json +yaml):\n%s", diff)
	}

	ds, err := Decode([]byte("- op_type: MatMul\n- op_type: Conv2D\n"), EncodingYAML)
	if err != nil || len(ds) != 2 {
		t.Fatalf("yaml list: %v %+v", err, ds)
	}
}

func TestDecodeFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "ops.yml")
	if err := os.WriteFile(path, []byte("op_type: MatMul\na: {shape: [16, 16]}\nb: {shape: [16, 16]}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ds, err := DecodeFile(path)
	if err != nil || len(ds) != 1 {
		t.Fatalf("DecodeFile: %v %+v", err, ds)
	}
	if _, err := DecodeFile(filepath.Join(dir, "ops.toml")); !errors.Is(err, ErrUnknownEncoding) {
		t.Fatalf("expected ErrUnknownEncoding, got %v", err)
	}
}

func TestParamMatMul(t *testing.T) {
	t.Parallel()
	reg := platform.NewRegistry()
	d := Descriptor{
		OpType: "BatchMatMul",
		A:      Tensor{Shape: []int64{4, 256, 128}, DType: "bf16"},
		B:      Tensor{Shape: []int64{4, 64, 128}, DType: "bf16", Format: "NZ"},
		TransB: true,
		Bias:   true,
	}
	p, err := d.Param(reg, "ascend910b")
	if err != nil {
		t.Fatalf("Param: %v", err)
	}
	if p.Platform.SocVersion != "ascend910b" || p.Platform.CoreNum != 24 {
		t.Fatalf("platform: %+v", p.Platform)
	}
	want := cubetiling.Shape{Batch: 4, H: 128, W: 64}
	if diff := cmp.Diff(want, p.B); diff != "" {
		t.Fatalf("transposed b mismatch (-want +got):\n%s", diff)
	}
	if p.ADType != cubetiling.BFloat16 || p.CDType != cubetiling.Float16 || p.BFormat != cubetiling.FormatNZ || p.AFormat != cubetiling.FormatND {
		t.Fatalf("types: %+v", p)
	}
	if !p.TransB || !p.Bias {
		t.Fatal("flags were dropped")
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	d.A.DType, d.B.DType = "int8", "int8"
	p, err = d.Param(reg, "ascend910b")
	if err != nil {
		t.Fatalf("Param int8: %v", err)
	}
	if p.CDType != cubetiling.Int32 {
		t.Fatalf("int8 output should default to int32, got %s", p.CDType)
	}
}

func TestParamConvInfersOutputs(t *testing.T) {
	t.Parallel()
	reg := platform.NewRegistry()

	fwd := Descriptor{
		OpType:  "Conv2D",
		A:       Tensor{Shape: []int64{1, 3, 224, 224}},
		B:       Tensor{Shape: []int64{64, 3, 7, 7}},
		Strides: []int64{2},
		Pads:    []int64{3},
	}
	p, err := fwd.Param(reg, "reference")
	if err != nil {
		t.Fatalf("fwd Param: %v", err)
	}
	if diff := cmp.Diff(cubetiling.Shape{Batch: 1, C: 64, D: 1, H: 112, W: 112}, p.C); diff != "" {
		t.Fatalf("inferred output mismatch (-want +got):\n%s", diff)
	}
	if p.Conv.StrideH != 2 || p.Conv.StrideW != 2 || p.Conv.PadRight != 3 {
		t.Fatalf("attrs: %+v", p.Conv)
	}
	if p.AFormat != cubetiling.FormatNC1HWC0 || p.BFormat != cubetiling.FormatFractalZ {
		t.Fatalf("default formats: %s %s", p.AFormat, p.BFormat)
	}

	dx := Descriptor{
		OpType:  "Conv2DBackpropInput",
		B:       Tensor{Shape: []int64{16, 32, 3, 3}},
		C:       &Tensor{Shape: []int64{1, 32, 28, 28}},
		Strides: []int64{2, 2},
		Pads:    []int64{1, 1, 1, 1},
	}
	p, err = dx.Param(reg, "reference")
	if err != nil {
		t.Fatalf("dx Param: %v", err)
	}
	if diff := cmp.Diff(cubetiling.Shape{Batch: 1, C: 16, D: 1, H: 14, W: 14}, p.A); diff != "" {
		t.Fatalf("inferred dy mismatch (-want +got):\n%s", diff)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	conv3d := Descriptor{
		OpType:       "Conv3D",
		PlatformInfo: &cubetiling.PlatformInfo{SocVersion: "inline", CoreNum: 4, L0ASize: 65536, L0BSize: 65536, L0CSize: 131072, L1Size: 524288, UBSize: 196608},
		A:            Tensor{Shape: []int64{1, 16, 8, 16, 16}},
		B:            Tensor{Shape: []int64{16, 16, 3, 3, 3}},
		Pads:         []int64{1, 1, 1, 1, 1, 1},
	}
	p, err = conv3d.Param(reg, "")
	if err != nil {
		t.Fatalf("3d Param: %v", err)
	}
	if p.Platform.SocVersion != "inline" || p.AFormat != cubetiling.FormatNDC1HWC0 || p.C.D != 8 {
		t.Fatalf("3d: %+v", p)
	}
}

func TestParamRejects(t *testing.T) {
	t.Parallel()
	reg := platform.NewRegistry()
	tests := []struct {
		name string
		d    Descriptor
		want error
	}{
		{"unknown op", Descriptor{OpType: "Softmax"}, cubetiling.ErrUnknownOpType},
		{"no platform", Descriptor{OpType: "MatMul", A: Tensor{Shape: []int64{2, 2}}, B: Tensor{Shape: []int64{2, 2}}}, ErrInvalidDescriptor},
		{"unknown platform", Descriptor{OpType: "MatMul", Platform: "gpu"}, platform.ErrUnknownPlatform},
		{"rank", Descriptor{OpType: "MatMul", Platform: "reference", A: Tensor{Shape: []int64{2}}, B: Tensor{Shape: []int64{2, 2}}}, ErrInvalidDescriptor},
		{"dtype", Descriptor{OpType: "MatMul", Platform: "reference", A: Tensor{Shape: []int64{2, 2}, DType: "fp8"}, B: Tensor{Shape: []int64{2, 2}}}, cubetiling.ErrInvalidParam},
		{"strides arity", Descriptor{OpType: "Conv2D", Platform: "reference", A: Tensor{Shape: []int64{1, 1, 4, 4}}, B: Tensor{Shape: []int64{1, 1, 1, 1}}, Strides: []int64{1, 1, 1}}, ErrInvalidDescriptor},
		{"dw without filter", Descriptor{OpType: "Conv2DBackpropFilter", Platform: "reference", B: Tensor{Shape: []int64{1, 1, 4, 4}}}, ErrInvalidDescriptor},
		{"conv rank", Descriptor{OpType: "Conv3D", Platform: "reference", A: Tensor{Shape: []int64{1, 1, 4, 4}}, B: Tensor{Shape: []int64{1, 1, 1, 1, 1}}}, ErrInvalidDescriptor},
	}
	for _, tc := range tests {
		if _, err := tc.d.Param(reg, ""); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}
