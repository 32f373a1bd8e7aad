// Package opdesc decodes operator descriptors, the JSON or YAML documents
// that describe one cube operator, and turns them into tiling parameters.
package opdesc

import (
	"fmt"
	"strings"

	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/internal/platform"
)

// Tensor is one operand. Shape is NCHW or NCDHW for convolutions and
// (batch,) rows, cols for matmul.
type Tensor struct {
	Shape  []int64 `json:"shape" yaml:"shape"`
	DType  string  `json:"dtype,omitempty" yaml:"dtype,omitempty"`
	Format string  `json:"format,omitempty" yaml:"format,omitempty"`
}

// Descriptor is one operator to tile.
//
// Operand roles follow the op type: for forward ops A and B are the
// inputs and C the output; backprop input and transpose take A = dy,
// B = filter, C = dx; backprop filter takes A = dy, B = x, C = dw. The
// forward output (C for forward ops, A for backprop ops) may be omitted
// and is then inferred.
type Descriptor struct {
	Name         string                   `json:"name,omitempty" yaml:"name,omitempty"`
	OpType       string                   `json:"op_type" yaml:"op_type"`
	Platform     string                   `json:"platform,omitempty" yaml:"platform,omitempty"`
	PlatformInfo *cubetiling.PlatformInfo `json:"platform_info,omitempty" yaml:"platform_info,omitempty"`
	A            Tensor                   `json:"a" yaml:"a"`
	B            Tensor                   `json:"b" yaml:"b"`
	C            *Tensor                  `json:"c,omitempty" yaml:"c,omitempty"`
	Strides      []int64                  `json:"strides,omitempty" yaml:"strides,omitempty"`
	Pads         []int64                  `json:"pads,omitempty" yaml:"pads,omitempty"`
	Dilations    []int64                  `json:"dilations,omitempty" yaml:"dilations,omitempty"`
	Groups       int64                    `json:"groups,omitempty" yaml:"groups,omitempty"`
	Bias         bool                     `json:"bias,omitempty" yaml:"bias,omitempty"`
	TransA       bool                     `json:"trans_a,omitempty" yaml:"trans_a,omitempty"`
	TransB       bool                     `json:"trans_b,omitempty" yaml:"trans_b,omitempty"`
	BinaryMode   int64                    `json:"binary_mode,omitempty" yaml:"binary_mode,omitempty"`
}

// Label names the descriptor in logs and reports.
func (d *Descriptor) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.OpType
}

func bad(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidDescriptor}, args...)...)
}

type kind int

const (
	kindMatMul kind = iota
	kindConvFwd
	kindConvDx
	kindConvDw
)

func classify(op cubetiling.OpType) (kind, bool, error) {
	switch op {
	case cubetiling.OpMatMul, cubetiling.OpBatchMatMul:
		return kindMatMul, false, nil
	case cubetiling.OpConv2D:
		return kindConvFwd, false, nil
	case cubetiling.OpConv3D:
		return kindConvFwd, true, nil
	case cubetiling.OpConv2DBackpropInput, cubetiling.OpConv2DTranspose:
		return kindConvDx, false, nil
	case cubetiling.OpConv3DBackpropInput, cubetiling.OpConv3DTranspose:
		return kindConvDx, true, nil
	case cubetiling.OpConv2DBackpropFilter:
		return kindConvDw, false, nil
	case cubetiling.OpConv3DBackpropFilter:
		return kindConvDw, true, nil
	}
	return 0, false, fmt.Errorf("%w: %q", cubetiling.ErrUnknownOpType, op)
}

// Param resolves the descriptor into tiling parameters. The platform is
// taken from PlatformInfo, then Platform, then defaultPlatform.
func (d *Descriptor) Param(reg *platform.Registry, defaultPlatform string) (cubetiling.CubeTilingParam, error) {
	var p cubetiling.CubeTilingParam
	op := cubetiling.OpType(strings.TrimSpace(d.OpType))
	k, threeD, err := classify(op)
	if err != nil {
		return p, err
	}
	p.OpType = op

	switch {
	case d.PlatformInfo != nil:
		p.Platform = *d.PlatformInfo
	default:
		name := d.Platform
		if name == "" {
			name = defaultPlatform
		}
		if name == "" {
			return p, bad("%s: no platform given", d.Label())
		}
		prof, err := reg.Lookup(name)
		if err != nil {
			return p, err
		}
		p.Platform = prof.Info()
	}

	if p.ADType, err = parseDType(d.A.DType); err != nil {
		return p, err
	}
	if p.BDType, err = parseDType(d.B.DType); err != nil {
		return p, err
	}
	cType := ""
	if d.C != nil {
		cType = d.C.DType
	}
	if cType == "" && p.ADType == cubetiling.Int8 {
		cType = "int32"
	}
	if p.CDType, err = parseDType(cType); err != nil {
		return p, err
	}
	p.Bias, p.TransA, p.TransB, p.BinaryMode = d.Bias, d.TransA, d.TransB, d.BinaryMode

	if k == kindMatMul {
		return p, d.matmul(&p)
	}
	return p, d.conv(&p, k, threeD)
}

func parseDType(s string) (cubetiling.DType, error) {
	if s == "" {
		return cubetiling.Float16, nil
	}
	return cubetiling.ParseDType(s)
}

func parseFormat(s string, def cubetiling.Format) (cubetiling.Format, error) {
	if s == "" {
		return def, nil
	}
	return cubetiling.ParseFormat(s)
}

func (d *Descriptor) matmul(p *cubetiling.CubeTilingParam) error {
	a, err := matrix("a", d.A.Shape, d.TransA)
	if err != nil {
		return err
	}
	b, err := matrix("b", d.B.Shape, d.TransB)
	if err != nil {
		return err
	}
	p.A, p.B = a, b
	if d.C != nil && len(d.C.Shape) > 0 {
		c, err := matrix("c", d.C.Shape, false)
		if err != nil {
			return err
		}
		if c.H != a.H || c.W != b.W {
			return bad("c shape %v does not match %dx%d", d.C.Shape, a.H, b.W)
		}
		p.C = c
	}
	if p.AFormat, err = parseFormat(d.A.Format, cubetiling.FormatND); err != nil {
		return err
	}
	if p.BFormat, err = parseFormat(d.B.Format, cubetiling.FormatND); err != nil {
		return err
	}
	return nil
}

// matrix reads a rank 2 or 3 shape as rows x cols, undoing a transpose so
// that H is always the outer logical dimension.
func matrix(name string, dims []int64, trans bool) (cubetiling.Shape, error) {
	var s cubetiling.Shape
	switch len(dims) {
	case 2:
		s = cubetiling.Shape{Batch: 1, H: dims[0], W: dims[1]}
	case 3:
		s = cubetiling.Shape{Batch: dims[0], H: dims[1], W: dims[2]}
	default:
		return s, bad("%s: matmul operands take rank 2 or 3, got %v", name, dims)
	}
	if trans {
		s.H, s.W = s.W, s.H
	}
	return s, nil
}

func nchw(name string, dims []int64, threeD bool) (cubetiling.Shape, error) {
	switch {
	case !threeD && len(dims) == 4:
		return cubetiling.Shape{Batch: dims[0], C: dims[1], D: 1, H: dims[2], W: dims[3]}, nil
	case threeD && len(dims) == 5:
		return cubetiling.Shape{Batch: dims[0], C: dims[1], D: dims[2], H: dims[3], W: dims[4]}, nil
	case len(dims) == 0:
		return cubetiling.Shape{}, nil
	}
	want := 4
	if threeD {
		want = 5
	}
	return cubetiling.Shape{}, bad("%s: expected rank %d shape, got %v", name, want, dims)
}

func (d *Descriptor) attrs(threeD bool) (cubetiling.ConvAttrs, error) {
	a := cubetiling.ConvAttrs{Groups: d.Groups}
	pick := func(name string, vals []int64, dst ...*int64) error {
		switch len(vals) {
		case 0:
			return nil
		case 1:
			for _, p := range dst {
				*p = vals[0]
			}
			return nil
		case len(dst):
			for i, p := range dst {
				*p = vals[i]
			}
			return nil
		}
		return bad("%s: want 1 or %d values, got %v", name, len(dst), vals)
	}
	var err error
	if threeD {
		err = pick("strides", d.Strides, &a.StrideD, &a.StrideH, &a.StrideW)
		if err == nil {
			err = pick("dilations", d.Dilations, &a.DilationD, &a.DilationH, &a.DilationW)
		}
		if err == nil {
			err = pick("pads", d.Pads, &a.PadHead, &a.PadTail, &a.PadTop, &a.PadBottom, &a.PadLeft, &a.PadRight)
		}
	} else {
		err = pick("strides", d.Strides, &a.StrideH, &a.StrideW)
		if err == nil {
			err = pick("dilations", d.Dilations, &a.DilationH, &a.DilationW)
		}
		if err == nil {
			err = pick("pads", d.Pads, &a.PadTop, &a.PadBottom, &a.PadLeft, &a.PadRight)
		}
	}
	return a, err
}

func (d *Descriptor) conv(p *cubetiling.CubeTilingParam, k kind, threeD bool) error {
	attrs, err := d.attrs(threeD)
	if err != nil {
		return err
	}
	p.Conv = attrs

	a, err := nchw("a", d.A.Shape, threeD)
	if err != nil {
		return err
	}
	b, err := nchw("b", d.B.Shape, threeD)
	if err != nil {
		return err
	}
	var c cubetiling.Shape
	if d.C != nil {
		if c, err = nchw("c", d.C.Shape, threeD); err != nil {
			return err
		}
	}

	fmapFmt, filterFmt := cubetiling.FormatNC1HWC0, cubetiling.FormatFractalZ
	if threeD {
		fmapFmt = cubetiling.FormatNDC1HWC0
	}

	// The forward output is the operand that may be inferred.
	switch k {
	case kindConvFwd:
		if c == (cubetiling.Shape{}) {
			if c, err = cubetiling.InferConvOutput(a, b, attrs, threeD); err != nil {
				return err
			}
		}
		p.AFormat, p.BFormat = fmapFmt, filterFmt
	case kindConvDx:
		if c == (cubetiling.Shape{}) {
			return bad("%s: dx shape (c) is required", d.Label())
		}
		if a == (cubetiling.Shape{}) {
			if a, err = cubetiling.InferConvOutput(c, b, attrs, threeD); err != nil {
				return err
			}
		}
		p.AFormat, p.BFormat = fmapFmt, filterFmt
	case kindConvDw:
		if c == (cubetiling.Shape{}) {
			return bad("%s: filter gradient shape (c) is required", d.Label())
		}
		if a == (cubetiling.Shape{}) {
			if a, err = cubetiling.InferConvOutput(b, c, attrs, threeD); err != nil {
				return err
			}
		}
		p.AFormat, p.BFormat = fmapFmt, fmapFmt
	}
	if a == (cubetiling.Shape{}) || b == (cubetiling.Shape{}) {
		return bad("%s: operand shapes a and b are required", d.Label())
	}
	p.A, p.B, p.C = a, b, c

	if p.AFormat, err = parseFormat(d.A.Format, p.AFormat); err != nil {
		return err
	}
	if p.BFormat, err = parseFormat(d.B.Format, p.BFormat); err != nil {
		return err
	}
	return nil
}
