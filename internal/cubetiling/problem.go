package cubetiling

// fractalBytes is the size of one 16 x C0 input fractal.
const fractalBytes = 512

// accBytes is the L0C accumulator width (fp32 or int32).
const accBytes = 4

// window describes an operand that is read through a convolution window
// instead of as a plain fractal matrix. One axis of the operand tile counts
// output pixels, the other counts channel blocks with the kernel taps
// folded in.
type window struct {
	inH, inW         int64
	outH, outW       int64
	strideH, strideW int64
	khDil, kwDil     int64
	taps             int64
	pixelsPerBlock   int64
	chanPerBlock     int64
	elemBytes        int64

	// backprop input reads dy, where output rows shrink by the stride.
	transposed bool
}

// outRows is the number of output rows a tile of pixelBlocks touches.
func (w *window) outRows(pixelBlocks int64) int64 {
	pixels := pixelBlocks * w.pixelsPerBlock
	rows := ceilDiv(pixels, w.outW)
	// a tile that starts mid-row straddles one more row
	if pixels%w.outW != 0 {
		rows++
	}
	return min(rows, w.outH)
}

// inRows is the number of input rows needed to produce outRows rows.
func (w *window) inRows(outRows int64) int64 {
	if w.transposed {
		return min(ceilDiv(outRows+w.khDil-1, w.strideH), w.inH)
	}
	return min((outRows-1)*w.strideH+w.khDil, w.inH)
}

func (w *window) bytes(pixelBlocks, chanBlocks int64) int64 {
	rows := w.inRows(w.outRows(pixelBlocks))
	channels := ceilDiv(chanBlocks, w.taps)
	return satMul(channels, w.chanPerBlock, rows, w.inW, w.elemBytes)
}

// ubMode says what an operand needs in UB before it reaches L1.
type ubMode uint8

const (
	ubNone ubMode = iota
	// ND to fractal reshaping of a matmul operand.
	ubNDToNZ
	// zero insertion of dy for strided backprop input.
	ubDilate
	// NCHW feature map transposed for backprop filter.
	ubTranspose
)

// problem is the family-independent view of one request that the
// calculators operate on.
type problem struct {
	op    OpType
	fam   *family
	plat  PlatformInfo
	shape TilingShape

	c0     int64
	aBytes int64
	bBytes int64
	cBytes int64

	// aWin and bWin are nil for plain fractal operands.
	aWin *window
	bWin *window

	bBatched     bool
	batchReduces bool
	kSplit       bool

	aub ubMode
	bub ubMode

	bias          bool
	transA        bool
	transB        bool
	binaryMode    int64
	load3dSpecial bool
	threeD        bool
	groups        int64
	dilated       bool
	enlarge       int64
}

func (p *problem) aL1Bound(mBlocks, kBlocks int64) int64 {
	if p.aWin != nil {
		return p.aWin.bytes(mBlocks, kBlocks)
	}
	return satMul(mBlocks, kBlocks, fractalBytes)
}

func (p *problem) bL1Bound(kBlocks, nBlocks int64) int64 {
	if p.bWin != nil {
		return p.bWin.bytes(kBlocks, nBlocks)
	}
	return satMul(kBlocks, nBlocks, fractalBytes)
}

func (p *problem) biasL1Bytes(nBlocks int64) int64 {
	if !p.bias {
		return 0
	}
	return nBlocks * 16 * p.cBytes
}

// atomicOut reports whether C is accumulated across cores.
func (p *problem) atomicOut(d DimFactor) bool {
	return d.K > 1 || (p.batchReduces && d.Batch > 1)
}
