package cubetiling

import "fmt"

// planar returns s with the depth forced to 1 for 2-D operands.
func planar(s Shape, threeD bool) Shape {
	if !threeD {
		s.D = 1
	}
	return s
}

func convOutDim(in, padA, padB, dilation, k, stride int64) int64 {
	eff := in + padA + padB - dilation*(k-1)
	if eff < 1 {
		return 0
	}
	return (eff-1)/stride + 1
}

// InferConvOutput returns the forward convolution output of feature map x
// and filter w (Cout, Cin/groups, kd, kh, kw).
func InferConvOutput(x, w Shape, attrs ConvAttrs, threeD bool) (Shape, error) {
	a := attrs.normalized()
	x, w = planar(x, threeD), planar(w, threeD)
	out := Shape{Batch: x.Batch, C: w.Batch, D: 1}
	if threeD {
		out.D = convOutDim(x.D, a.PadHead, a.PadTail, a.DilationD, w.D, a.StrideD)
	}
	out.H = convOutDim(x.H, a.PadTop, a.PadBottom, a.DilationH, w.H, a.StrideH)
	out.W = convOutDim(x.W, a.PadLeft, a.PadRight, a.DilationW, w.W, a.StrideW)
	if out.D < 1 || out.H < 1 || out.W < 1 {
		return Shape{}, fmt.Errorf("%w: filter %dx%dx%d does not fit padded input %dx%dx%d",
			ErrInvalidParam, w.D, w.H, w.W, x.D, x.H, x.W)
	}
	return out, nil
}

// groupEnlarge is how many groups are merged so that the per-group K and
// N channel counts fill whole blocks, capped at the group count.
func groupEnlarge(kChannels, kAlign, nChannels, nAlign, groups int64) int64 {
	e := lcm(lcm(kChannels, kAlign)/kChannels, lcm(nChannels, nAlign)/nChannels)
	return min(e, groups)
}

type groupedChannels struct {
	enlarge int64
	k1g     int64
	n1g     int64
	realG   int64
}

func groupChannels(kChannels, kAlign, nChannels, nAlign, groups int64) groupedChannels {
	e := groupEnlarge(kChannels, kAlign, nChannels, nAlign, groups)
	return groupedChannels{
		enlarge: e,
		k1g:     ceilDiv(kChannels*e, kAlign),
		n1g:     ceilDiv(nChannels*e, nAlign),
		realG:   ceilDiv(groups, e),
	}
}

func checkKernel(w Shape, threeD bool) error {
	if err := checkRange("kernel_h", w.H, 1, kernelUpper); err != nil {
		return err
	}
	if err := checkRange("kernel_w", w.W, 1, kernelUpper); err != nil {
		return err
	}
	if threeD {
		return checkRange("kernel_d", w.D, 1, kernelUpper)
	}
	return nil
}

// checkConvOperands validates a forward geometry x * w = y shared by all
// conv families. y may be the zero Shape when it is to be inferred.
func checkConvOperands(x, w, y Shape, attrs ConvAttrs, threeD bool) error {
	a := attrs.normalized()
	x, w = planar(x, threeD), planar(w, threeD)
	if err := checkDims("fmap", x, threeD); err != nil {
		return err
	}
	if err := checkDims("filter", w, threeD); err != nil {
		return err
	}
	if err := checkKernel(w, threeD); err != nil {
		return err
	}
	if err := checkConvAttrs(a, threeD); err != nil {
		return err
	}
	if x.C%a.Groups != 0 || w.Batch%a.Groups != 0 {
		return fmt.Errorf("%w: channels %d/%d not divisible by groups %d", ErrInvalidParam, x.C, w.Batch, a.Groups)
	}
	if w.C*a.Groups != x.C {
		return fmt.Errorf("%w: filter input channels %d x groups %d != fmap channels %d", ErrInvalidParam, w.C, a.Groups, x.C)
	}
	out, err := InferConvOutput(x, w, a, threeD)
	if err != nil {
		return err
	}
	if y != (Shape{}) && planar(y, threeD) != out {
		return fmt.Errorf("%w: output %+v does not match inferred %+v", ErrInvalidParam, y, out)
	}
	return nil
}

func convWindow(in, out, w Shape, a ConvAttrs) *window {
	return &window{
		inH:     in.H,
		inW:     in.W,
		outH:    out.H,
		outW:    out.W,
		strideH: a.StrideH,
		strideW: a.StrideW,
		khDil:   a.DilationH*(w.H-1) + 1,
		kwDil:   a.DilationW*(w.W-1) + 1,
		taps:    w.H * w.W,
	}
}
