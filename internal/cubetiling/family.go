package cubetiling

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// family is the strategy set one op type dispatches to.
type family struct {
	name   string
	threeD bool
	kSplit bool

	checkShapes              func(p *CubeTilingParam) error
	setOrigShape             func(p *CubeTilingParam, pr *problem)
	checkSpecialTemplate     func(pr *problem)
	checkCycleModelUnsupport func(pr *problem) bool
	setTiling                func(pr *problem, st *SingleCoreStatus, ub *ubCalculator, t *CubeTiling)
	layout                   []idField
}

func (f *family) idLayout() []idField {
	return f.layout
}

var families = map[OpType]*family{
	OpMatMul:               matmulFamily(false),
	OpBatchMatMul:          matmulFamily(true),
	OpConv2D:               convFwdFamily(false),
	OpConv3D:               convFwdFamily(true),
	OpConv2DBackpropInput:  convDxFamily(false, false),
	OpConv3DBackpropInput:  convDxFamily(true, false),
	OpConv2DTranspose:      convDxFamily(false, true),
	OpConv3DTranspose:      convDxFamily(true, true),
	OpConv2DBackpropFilter: convDwFamily(false),
	OpConv3DBackpropFilter: convDwFamily(true),
}

func lookupFamily(op OpType) (*family, bool) {
	f, ok := families[op]
	return f, ok
}

// OpTypes lists every registered op type in name order.
func OpTypes() []OpType {
	out := make([]OpType, 0, len(families))
	for op := range families {
		out = append(out, op)
	}
	slices.Sort(out)
	return out
}

// FamilyInfo describes how an op type is tiled.
type FamilyInfo struct {
	OpType   OpType   `json:"op_type"`
	Family   string   `json:"family"`
	ThreeD   bool     `json:"three_d"`
	KSplit   bool     `json:"k_split"`
	IDFields []string `json:"id_fields"`
}

func Families() []FamilyInfo {
	return lo.Map(OpTypes(), func(op OpType, _ int) FamilyInfo {
		f := families[op]
		names := lo.Map(f.layout, func(fld idField, _ int) string { return fld.name })
		return FamilyInfo{OpType: op, Family: f.name, ThreeD: f.threeD, KSplit: f.kSplit, IDFields: names}
	})
}

// Width limit for the cycle model used to validate tuned tilings.
const cycleModelMaxW = 4096

func baseProblem(p *CubeTilingParam, f *family, pr *problem) {
	pr.fam = f
	pr.op = p.OpType
	pr.plat = p.Platform
	pr.c0 = p.ADType.C0()
	pr.aBytes = p.ADType.Bytes()
	pr.bBytes = p.BDType.Bytes()
	pr.cBytes = p.CDType.Bytes()
	pr.bias = p.Bias
	pr.transA = p.TransA
	pr.transB = p.TransB
	pr.binaryMode = p.BinaryMode
	pr.threeD = f.threeD
	pr.kSplit = f.kSplit
	pr.groups = 1
	pr.enlarge = 1
}

func convProblem(p *CubeTilingParam, pr *problem) ConvAttrs {
	a := p.Conv.normalized()
	pr.groups = a.Groups
	pr.dilated = a.DilationH > 1 || a.DilationW > 1 || (pr.threeD && a.DilationD > 1)
	return a
}

func specialWindow(pr *problem, w *window) {
	pr.load3dSpecial = w.outH == 1 && w.khDil == 1
}

func convCycleUnsupported(pr *problem) bool {
	if pr.binaryMode != 0 || pr.dilated || pr.groups > 1 {
		return true
	}
	return pr.shape.W > cycleModelMaxW
}

func matmulFamily(batched bool) *family {
	f := &family{name: "matmul", kSplit: true}
	f.checkShapes = func(p *CubeTilingParam) error {
		batch := max(p.A.Batch, 1)
		if !batched && batch > 1 {
			return fmt.Errorf("%w: %s takes no batch axis, use %s", ErrInvalidParam, p.OpType, OpBatchMatMul)
		}
		if err := checkRange("batch", batch, 1, shapeUpper); err != nil {
			return err
		}
		if err := checkRange("m", p.A.H, 1, shapeUpper); err != nil {
			return err
		}
		if err := checkRange("k", p.A.W, 1, shapeUpper); err != nil {
			return err
		}
		if err := checkRange("n", p.B.W, 1, shapeUpper); err != nil {
			return err
		}
		if p.B.H != 0 && p.B.H != p.A.W {
			return fmt.Errorf("%w: k mismatch %d != %d", ErrInvalidParam, p.A.W, p.B.H)
		}
		if p.B.Batch > 1 && p.B.Batch != batch {
			return fmt.Errorf("%w: b batch %d does not broadcast to %d", ErrInvalidParam, p.B.Batch, batch)
		}
		return nil
	}
	f.setOrigShape = func(p *CubeTilingParam, pr *problem) {
		pr.shape = TilingShape{
			Batch: max(p.A.Batch, 1),
			M:     ceilDiv(p.A.H, 16),
			K:     ceilDiv(p.A.W, pr.c0),
			N:     ceilDiv(p.B.W, 16),
			Group: 1,
			H:     1,
			W:     1,
			Din:   1,
			Dk:    1,
			Dout:  1,
		}
		pr.bBatched = p.B.Batch > 1
		if !p.AFormat.fractal() {
			pr.aub = ubNDToNZ
		}
		if !p.BFormat.fractal() {
			pr.bub = ubNDToNZ
		}
	}
	f.checkSpecialTemplate = func(*problem) {}
	f.checkCycleModelUnsupport = func(pr *problem) bool {
		return pr.binaryMode != 0
	}
	f.setTiling = func(_ *problem, _ *SingleCoreStatus, _ *ubCalculator, t *CubeTiling) {
		t.Ho = 1
	}
	f.layout = withCommon(
		flagField("aub_used", 14, func(p *TilingIDParam) bool { return p.AubUsed }),
		flagField("bub_used", 15, func(p *TilingIDParam) bool { return p.BubUsed }),
		flagField("bias", 16, func(p *TilingIDParam) bool { return p.Bias }),
		flagField("trans_a", 17, func(p *TilingIDParam) bool { return p.TransA }),
		flagField("trans_b", 18, func(p *TilingIDParam) bool { return p.TransB }),
		flagField("batch", 19, func(p *TilingIDParam) bool { return p.BatchFlag }),
		flagField("db_aub", 20, func(p *TilingIDParam) bool { return p.DbAub }),
		flagField("db_bub", 21, func(p *TilingIDParam) bool { return p.DbBub }),
	)
	return f
}

func dSplitField(offset uint) idField {
	return flagField("d_split", offset, func(p *TilingIDParam) bool { return p.DSplit })
}

// Forward convolution: A is the feature map read through the window, B the
// fractal filter. M counts output pixels, K input channels times taps.
func convFwdFamily(threeD bool) *family {
	f := &family{name: "conv", threeD: threeD}
	f.checkShapes = func(p *CubeTilingParam) error {
		return checkConvOperands(p.A, p.B, p.C, p.Conv, threeD)
	}
	f.setOrigShape = func(p *CubeTilingParam, pr *problem) {
		a := convProblem(p, pr)
		x, w := planar(p.A, threeD), planar(p.B, threeD)
		y, _ := InferConvOutput(x, w, a, threeD)
		g := groupChannels(x.C/a.Groups, pr.c0, w.Batch/a.Groups, 16, a.Groups)
		pr.enlarge = g.enlarge
		pr.shape = TilingShape{
			Batch: x.Batch * y.D,
			M:     ceilDiv(y.H*y.W, 16),
			K:     g.k1g * w.D * w.H * w.W,
			N:     g.n1g,
			Group: g.realG,
			H:     x.H,
			W:     x.W,
			Din:   x.D,
			Dk:    w.D,
			Dout:  y.D,
		}
		win := convWindow(x, y, w, a)
		win.pixelsPerBlock, win.chanPerBlock, win.elemBytes = 16, pr.c0, pr.aBytes
		pr.aWin = win
	}
	f.checkSpecialTemplate = func(pr *problem) { specialWindow(pr, pr.aWin) }
	f.checkCycleModelUnsupport = convCycleUnsupported
	f.setTiling = func(pr *problem, st *SingleCoreStatus, _ *ubCalculator, t *CubeTiling) {
		t.Ho = int32(pr.aWin.outRows(st.L1.MAL1))
	}
	fields := []idField{
		flagField("load3d_special", 14, func(p *TilingIDParam) bool { return p.Load3DSpecial }),
		flagField("bias", 15, func(p *TilingIDParam) bool { return p.Bias }),
	}
	if threeD {
		fields = append(fields, dSplitField(16))
	}
	f.layout = withCommon(fields...)
	return f
}

// Backprop input and transposed convolution: A is dy, B the filter and
// C is dx. M counts dx pixels, K output channels times taps.
func convDxFamily(threeD, transpose bool) *family {
	name := "conv_dx"
	if transpose {
		name = "conv_transpose"
	}
	f := &family{name: name, threeD: threeD}
	f.checkShapes = func(p *CubeTilingParam) error {
		if err := checkDims("dy", planar(p.A, threeD), threeD); err != nil {
			return err
		}
		if err := checkConvOperands(p.C, p.B, p.A, p.Conv, threeD); err != nil {
			return err
		}
		return nil
	}
	f.setOrigShape = func(p *CubeTilingParam, pr *problem) {
		a := convProblem(p, pr)
		dy, w, dx := planar(p.A, threeD), planar(p.B, threeD), planar(p.C, threeD)
		g := groupChannels(w.Batch/a.Groups, pr.c0, w.C, 16, a.Groups)
		pr.enlarge = g.enlarge
		pr.shape = TilingShape{
			Batch: dx.Batch * dx.D,
			M:     ceilDiv(dx.H*dx.W, 16),
			K:     g.k1g * w.D * w.H * w.W,
			N:     g.n1g,
			Group: g.realG,
			H:     dy.H,
			W:     dy.W,
			Din:   dy.D,
			Dk:    w.D,
			Dout:  dx.D,
		}
		win := convWindow(dy, dx, w, a)
		win.pixelsPerBlock, win.chanPerBlock, win.elemBytes = 16, pr.c0, pr.aBytes
		win.transposed = true
		pr.aWin = win
		if a.StrideH > 1 || a.StrideW > 1 {
			pr.aub = ubDilate
		}
	}
	f.checkSpecialTemplate = func(pr *problem) { specialWindow(pr, pr.aWin) }
	f.checkCycleModelUnsupport = convCycleUnsupported
	f.setTiling = func(pr *problem, st *SingleCoreStatus, _ *ubCalculator, t *CubeTiling) {
		t.Ho = int32(pr.aWin.outRows(st.L1.MAL1))
	}
	fields := []idField{
		flagField("aub_used", 14, func(p *TilingIDParam) bool { return p.AubUsed }),
		flagField("load3d_special", 15, func(p *TilingIDParam) bool { return p.Load3DSpecial }),
		flagField("db_aub", 16, func(p *TilingIDParam) bool { return p.DbAub }),
	}
	if threeD {
		fields = append(fields, dSplitField(17))
	}
	f.layout = withCommon(fields...)
	return f
}

// Backprop filter: A is dy, B the feature map read through the window and
// C the filter gradient. K counts dy pixels and batch is reduced.
func convDwFamily(threeD bool) *family {
	f := &family{name: "conv_dw", threeD: threeD, kSplit: true}
	f.checkShapes = func(p *CubeTilingParam) error {
		if err := checkDims("dy", planar(p.A, threeD), threeD); err != nil {
			return err
		}
		return checkConvOperands(p.B, p.C, p.A, p.Conv, threeD)
	}
	f.setOrigShape = func(p *CubeTilingParam, pr *problem) {
		a := convProblem(p, pr)
		dy, x, dw := planar(p.A, threeD), planar(p.B, threeD), planar(p.C, threeD)
		g := groupChannels(dw.Batch/a.Groups, 16, dw.C, 16, a.Groups)
		pr.enlarge = g.enlarge
		pr.shape = TilingShape{
			Batch: x.Batch * dy.D,
			M:     g.k1g,
			K:     ceilDiv(dy.H*dy.W, pr.c0),
			N:     g.n1g * dw.D * dw.H * dw.W,
			Group: g.realG,
			H:     x.H,
			W:     x.W,
			Din:   x.D,
			Dk:    dw.D,
			Dout:  dy.D,
		}
		win := convWindow(x, dy, dw, a)
		win.pixelsPerBlock, win.chanPerBlock, win.elemBytes = pr.c0, 16, pr.bBytes
		pr.bWin = win
		pr.bBatched = true
		pr.batchReduces = true
		if p.BFormat == FormatNCHW || p.BFormat == FormatNCDHW {
			pr.bub = ubTranspose
		}
	}
	f.checkSpecialTemplate = func(pr *problem) { specialWindow(pr, pr.bWin) }
	f.checkCycleModelUnsupport = convCycleUnsupported
	f.setTiling = func(pr *problem, st *SingleCoreStatus, ub *ubCalculator, t *CubeTiling) {
		t.Ho = int32(pr.bWin.outRows(st.L1.KBL1))
		t.WiBub = ub.GetTilingWiBub()
	}
	fields := []idField{
		flagField("bub_used", 14, func(p *TilingIDParam) bool { return p.BubUsed }),
		flagField("load3d_special", 15, func(p *TilingIDParam) bool { return p.Load3DSpecial }),
		flagField("db_bub", 16, func(p *TilingIDParam) bool { return p.DbBub }),
	}
	if threeD {
		fields = append(fields, dSplitField(17))
	}
	f.layout = withCommon(fields...)
	return f
}
