package cubetiling

import (
	"fmt"
	"math"
	"strings"
)

// DType is the element type of a cube operand.
type DType uint8

const (
	DTypeUnknown DType = iota
	Float16
	BFloat16
	Float32
	Int8
	Int32
)

var dtypeNames = map[DType]string{
	Float16:  "float16",
	BFloat16: "bfloat16",
	Float32:  "float32",
	Int8:     "int8",
	Int32:    "int32",
}

// Bytes returns the element width, or 0 for an unknown type.
func (d DType) Bytes() int64 {
	switch d {
	case Float16, BFloat16:
		return 2
	case Float32, Int32:
		return 4
	case Int8:
		return 1
	default:
		return 0
	}
}

// C0 is the number of elements of d that fill one 32-byte fractal row.
func (d DType) C0() int64 {
	if b := d.Bytes(); b > 0 {
		return 32 / b
	}
	return 0
}

func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// ParseDType accepts the long names and the usual short aliases (fp16, bf16, fp32).
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float16", "fp16", "half":
		return Float16, nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	case "float32", "fp32", "float":
		return Float32, nil
	case "int8":
		return Int8, nil
	case "int32":
		return Int32, nil
	}
	return DTypeUnknown, fmt.Errorf("%w: unknown dtype %q", ErrInvalidParam, s)
}

// Format is the memory layout of an operand in global memory.
type Format uint8

const (
	FormatND Format = iota
	FormatNZ
	FormatNCHW
	FormatNHWC
	FormatNC1HWC0
	FormatNCDHW
	FormatNDC1HWC0
	FormatFractalZ
)

var formatNames = []string{"ND", "FRACTAL_NZ", "NCHW", "NHWC", "NC1HWC0", "NCDHW", "NDC1HWC0", "FRACTAL_Z"}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// ParseFormat is case-insensitive. "NZ" is accepted for FRACTAL_NZ.
func ParseFormat(s string) (Format, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	if u == "NZ" {
		return FormatNZ, nil
	}
	for i, name := range formatNames {
		if name == u {
			return Format(i), nil
		}
	}
	return FormatND, fmt.Errorf("%w: unknown format %q", ErrInvalidParam, s)
}

// fractal reports whether the layout is already blocked for the cube unit.
func (f Format) fractal() bool {
	switch f {
	case FormatNZ, FormatNC1HWC0, FormatNDC1HWC0, FormatFractalZ:
		return true
	}
	return false
}

// OpType names a cube operator. Each op type maps to exactly one family.
type OpType string

const (
	OpMatMul               OpType = "MatMul"
	OpBatchMatMul          OpType = "BatchMatMul"
	OpConv2D               OpType = "Conv2D"
	OpConv3D               OpType = "Conv3D"
	OpConv2DBackpropInput  OpType = "Conv2DBackpropInput"
	OpConv3DBackpropInput  OpType = "Conv3DBackpropInput"
	OpConv2DTranspose      OpType = "Conv2DTranspose"
	OpConv3DTranspose      OpType = "Conv3DTranspose"
	OpConv2DBackpropFilter OpType = "Conv2DBackpropFilter"
	OpConv3DBackpropFilter OpType = "Conv3DBackpropFilter"
)

// Shape is a logical operand shape. For conv operands the fields are
// N, C, D, H, W; for matmul operands Batch, -, -, rows, cols.
type Shape struct {
	Batch int64 `json:"batch" yaml:"batch"`
	C     int64 `json:"c" yaml:"c"`
	D     int64 `json:"d" yaml:"d"`
	H     int64 `json:"h" yaml:"h"`
	W     int64 `json:"w" yaml:"w"`
}

// TilingShape is the canonical problem a family derives from its operands.
// M and N count 16-element fractal blocks, K counts C0-element blocks.
type TilingShape struct {
	Batch int64 `json:"batch" yaml:"batch"`
	M     int64 `json:"m" yaml:"m"`
	K     int64 `json:"k" yaml:"k"`
	N     int64 `json:"n" yaml:"n"`
	Group int64 `json:"group" yaml:"group"`
	H     int64 `json:"h" yaml:"h"`
	W     int64 `json:"w" yaml:"w"`
	Din   int64 `json:"din" yaml:"din"`
	Dk    int64 `json:"dk" yaml:"dk"`
	Dout  int64 `json:"dout" yaml:"dout"`
}

// PlatformInfo describes the target NPU. Buffer sizes are in bytes.
type PlatformInfo struct {
	SocVersion string `json:"soc_version" yaml:"soc_version"`
	CoreNum    int64  `json:"core_num" yaml:"core_num"`
	L0ASize    int64  `json:"l0a_size" yaml:"l0a_size"`
	L0BSize    int64  `json:"l0b_size" yaml:"l0b_size"`
	L0CSize    int64  `json:"l0c_size" yaml:"l0c_size"`
	L1Size     int64  `json:"l1_size" yaml:"l1_size"`
	UBSize     int64  `json:"ub_size" yaml:"ub_size"`
}

// ConvAttrs holds convolution attributes. Zero strides, dilations and
// groups mean 1.
type ConvAttrs struct {
	StrideD   int64 `json:"stride_d" yaml:"stride_d"`
	StrideH   int64 `json:"stride_h" yaml:"stride_h"`
	StrideW   int64 `json:"stride_w" yaml:"stride_w"`
	PadHead   int64 `json:"pad_head" yaml:"pad_head"`
	PadTail   int64 `json:"pad_tail" yaml:"pad_tail"`
	PadTop    int64 `json:"pad_top" yaml:"pad_top"`
	PadBottom int64 `json:"pad_bottom" yaml:"pad_bottom"`
	PadLeft   int64 `json:"pad_left" yaml:"pad_left"`
	PadRight  int64 `json:"pad_right" yaml:"pad_right"`
	DilationD int64 `json:"dilation_d" yaml:"dilation_d"`
	DilationH int64 `json:"dilation_h" yaml:"dilation_h"`
	DilationW int64 `json:"dilation_w" yaml:"dilation_w"`
	Groups    int64 `json:"groups" yaml:"groups"`
}

func (a ConvAttrs) normalized() ConvAttrs {
	one := func(v *int64) {
		if *v == 0 {
			*v = 1
		}
	}
	one(&a.StrideD)
	one(&a.StrideH)
	one(&a.StrideW)
	one(&a.DilationD)
	one(&a.DilationH)
	one(&a.DilationW)
	one(&a.Groups)
	return a
}

// CubeTilingParam is the full input of one tiling request. It is
// comparable and used directly as a cache key.
//
// Operand roles per family:
//   - MatMul: A is (Batch, -, -, M, K), B is (Batch or 1, -, -, K, N), C is the output.
//   - Conv forward: A is the feature map, B the filter (Cout, Cin/groups, kd, kh, kw), C the output.
//   - Backprop input and transpose: A is dy, B the filter, C is dx.
//   - Backprop filter: A is dy, B the feature map, C the filter gradient.
type CubeTilingParam struct {
	OpType     OpType       `json:"op_type" yaml:"op_type"`
	Platform   PlatformInfo `json:"platform" yaml:"platform"`
	A          Shape        `json:"a" yaml:"a"`
	B          Shape        `json:"b" yaml:"b"`
	C          Shape        `json:"c" yaml:"c"`
	ADType     DType        `json:"a_dtype" yaml:"a_dtype"`
	BDType     DType        `json:"b_dtype" yaml:"b_dtype"`
	CDType     DType        `json:"c_dtype" yaml:"c_dtype"`
	AFormat    Format       `json:"a_format" yaml:"a_format"`
	BFormat    Format       `json:"b_format" yaml:"b_format"`
	Conv       ConvAttrs    `json:"conv" yaml:"conv"`
	TransA     bool         `json:"trans_a" yaml:"trans_a"`
	TransB     bool         `json:"trans_b" yaml:"trans_b"`
	Bias       bool         `json:"bias" yaml:"bias"`
	BinaryMode int64        `json:"binary_mode" yaml:"binary_mode"`
}

// Range limits enforced by Validate.
const (
	shapeUpper    = math.MaxInt32 - 1
	strideUpper   = 63
	dilationUpper = 255
	padUpper      = 255
	groupsUpper   = 65535
	kernelUpper   = 255
	binaryModeMax = 3
)

// IsValid reports whether Validate accepts the parameters.
func (p *CubeTilingParam) IsValid() bool {
	return p.Validate() == nil
}

// Validate checks the platform, dtypes and the family specific operand
// shapes. Unknown op types return ErrUnknownOpType, everything else
// ErrInvalidParam.
func (p *CubeTilingParam) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil params", ErrInvalidParam)
	}
	if err := p.Platform.validate(); err != nil {
		return err
	}
	if p.ADType.Bytes() == 0 || p.BDType.Bytes() == 0 || p.CDType.Bytes() == 0 {
		return fmt.Errorf("%w: unsupported dtype combination %s/%s/%s", ErrInvalidParam, p.ADType, p.BDType, p.CDType)
	}
	if p.ADType.C0() != p.BDType.C0() {
		return fmt.Errorf("%w: a and b dtypes must share a block width", ErrInvalidParam)
	}
	if p.BinaryMode < 0 || p.BinaryMode > binaryModeMax {
		return fmt.Errorf("%w: binary mode %d out of range", ErrInvalidParam, p.BinaryMode)
	}
	fam, ok := lookupFamily(p.OpType)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOpType, p.OpType)
	}
	return fam.checkShapes(p)
}

func (pi PlatformInfo) validate() error {
	switch {
	case pi.CoreNum <= 0:
		return fmt.Errorf("%w: core_num must be positive, got %d", ErrInvalidParam, pi.CoreNum)
	case pi.CoreNum > math.MaxInt32:
		return fmt.Errorf("%w: core_num %d too large", ErrInvalidParam, pi.CoreNum)
	case pi.L0ASize <= 0, pi.L0BSize <= 0, pi.L0CSize <= 0, pi.L1Size <= 0, pi.UBSize <= 0:
		return fmt.Errorf("%w: buffer sizes must be positive", ErrInvalidParam)
	}
	return nil
}

func checkRange(name string, v, lo, hi int64) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s=%d out of range [%d, %d]", ErrInvalidParam, name, v, lo, hi)
	}
	return nil
}

func checkDims(prefix string, s Shape, withD bool) error {
	if err := checkRange(prefix+".n", s.Batch, 1, shapeUpper); err != nil {
		return err
	}
	if err := checkRange(prefix+".c", s.C, 1, shapeUpper); err != nil {
		return err
	}
	if withD {
		if err := checkRange(prefix+".d", s.D, 1, shapeUpper); err != nil {
			return err
		}
	}
	if err := checkRange(prefix+".h", s.H, 1, shapeUpper); err != nil {
		return err
	}
	return checkRange(prefix+".w", s.W, 1, shapeUpper)
}

func checkConvAttrs(a ConvAttrs, threeD bool) error {
	checks := []struct {
		name   string
		v      int64
		lo, hi int64
	}{
		{"stride_h", a.StrideH, 1, strideUpper},
		{"stride_w", a.StrideW, 1, strideUpper},
		{"dilation_h", a.DilationH, 1, dilationUpper},
		{"dilation_w", a.DilationW, 1, dilationUpper},
		{"pad_top", a.PadTop, 0, padUpper},
		{"pad_bottom", a.PadBottom, 0, padUpper},
		{"pad_left", a.PadLeft, 0, padUpper},
		{"pad_right", a.PadRight, 0, padUpper},
		{"groups", a.Groups, 1, groupsUpper},
	}
	if threeD {
		checks = append(checks, []struct {
			name   string
			v      int64
			lo, hi int64
		}{
			{"stride_d", a.StrideD, 1, strideUpper},
			{"dilation_d", a.DilationD, 1, dilationUpper},
			{"pad_head", a.PadHead, 0, padUpper},
			{"pad_tail", a.PadTail, 0, padUpper},
		}...)
	}
	for _, c := range checks {
		if err := checkRange(c.name, c.v, c.lo, c.hi); err != nil {
			return err
		}
	}
	return nil
}

func (d DType) MarshalText() ([]byte, error) {
	if _, ok := dtypeNames[d]; !ok {
		return nil, fmt.Errorf("%w: cannot encode %s", ErrInvalidParam, d)
	}
	return []byte(d.String()), nil
}

func (d *DType) UnmarshalText(b []byte) error {
	v, err := ParseDType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(b []byte) error {
	v, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
