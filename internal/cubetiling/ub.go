package cubetiling

import "github.com/samcharles93/cubetile/internal/logger"

// ubCalculator plans the unified buffer: the L0C drain tile (cub) always,
// plus A or B staging when the operand has to be reshaped before L1.
type ubCalculator struct {
	pr  *problem
	st  *SingleCoreStatus
	log logger.Logger
}

func (c *ubCalculator) Init(pr *problem, st *SingleCoreStatus, log logger.Logger) {
	c.pr, c.st, c.log = pr, st, log
}

func (c *ubCalculator) Clear() {
	c.pr, c.st, c.log = nil, nil, nil
}

func (c *ubCalculator) Exec() bool {
	ubSize := c.pr.plat.UBSize
	l0 := c.st.L0
	ub := UbStatus{
		KAub:    1,
		MAub:    1,
		DbAub:   1,
		KBub:    1,
		NBub:    1,
		DbBub:   1,
		WiBub:   1,
		AubUsed: c.pr.aub != ubNone,
		BubUsed: c.pr.bub != ubNone,
	}

	minA, minB := c.stagingFloor()

	cubFound := false
	for _, db := range []int64{2, 1} {
		for _, nCub := range divisorsDesc(l0.N0) {
			bytes := c.cubBytes(nCub, l0.M0)
			if satAdd(satAdd(satMul(bytes, db), minA), minB) <= ubSize {
				ub.NCub, ub.DbCub, ub.CubBytes = nCub, db, bytes
				cubFound = true
				break
			}
		}
		if cubFound {
			break
		}
	}
	if !cubFound {
		c.log.Debug("ub cannot hold the minimal drain tile", "op", c.pr.op, "n0", l0.N0, "m0", l0.M0)
		return false
	}
	remain := ubSize - ub.CubBytes*ub.DbCub

	if ub.AubUsed {
		k, m, db, bytes := c.pickAub(remain - minB)
		ub.KAub, ub.MAub, ub.DbAub, ub.AubBytes = k, m, db, bytes
		remain -= bytes * db
	}
	if ub.BubUsed {
		k, n, db, bytes, wi := c.pickBub(remain)
		ub.KBub, ub.NBub, ub.DbBub, ub.BubBytes, ub.WiBub = k, n, db, bytes, wi
	}
	c.st.UB = ub
	c.log.Debug("ub plan selected", "n_cub", ub.NCub, "db_cub", ub.DbCub, "aub", ub.AubUsed, "bub", ub.BubUsed, "used", ub.Used())
	return true
}

func (c *ubCalculator) cubBytes(nCub, m0 int64) int64 {
	return satMul(nCub, m0, 256, accBytes+c.pr.cBytes)
}

// stagingFloor is the smallest A and B staging the plan can settle for.
func (c *ubCalculator) stagingFloor() (minA, minB int64) {
	if c.pr.aub != ubNone {
		minA = c.aubBytes(1, 1)
	}
	if c.pr.bub != ubNone {
		minB, _ = c.bubBytes(1, 1)
	}
	return minA, minB
}

// maxM0 is the largest m0 whose single block drain tile still fits UB
// next to the minimal staging tiles. It is zero when nothing fits.
func (c *ubCalculator) maxM0() int64 {
	minA, minB := c.stagingFloor()
	remain := c.pr.plat.UBSize - satAdd(minA, minB)
	if remain <= 0 {
		return 0
	}
	return remain / satMul(256, accBytes+c.pr.cBytes)
}

// GetTilingWiBub is the input width the B tile spans in the kernel: the
// planned staging width, or the full row when B is read directly.
func (c *ubCalculator) GetTilingWiBub() int32 {
	if !c.st.UB.BubUsed && c.pr.bWin != nil {
		return int32(c.pr.bWin.inW)
	}
	return int32(c.st.UB.WiBub)
}

// replay rebuilds the plan recorded in t for the current problem. Staging
// tiles the problem does not use are reset.
func (c *ubCalculator) replay(t *CubeTiling) {
	ub := UbStatus{
		NCub:    int64(t.NCub),
		DbCub:   int64(t.DbCub),
		KAub:    1,
		MAub:    1,
		DbAub:   1,
		KBub:    1,
		NBub:    1,
		DbBub:   1,
		WiBub:   1,
		AubUsed: c.pr.aub != ubNone,
		BubUsed: c.pr.bub != ubNone,
	}
	ub.CubBytes = c.cubBytes(ub.NCub, c.st.L0.M0)
	if ub.AubUsed {
		ub.KAub, ub.MAub, ub.DbAub = int64(t.KAub), int64(t.MAub), int64(t.DbAub)
		ub.AubBytes = c.aubBytes(ub.KAub, ub.MAub)
	}
	if ub.BubUsed {
		ub.KBub, ub.NBub, ub.DbBub = int64(t.KBub), int64(t.NBub), int64(t.DbBub)
		ub.BubBytes, ub.WiBub = c.bubBytes(ub.KBub, ub.NBub)
	}
	c.st.UB = ub
}

// aKExtent is the K extent the A staging tile divides, in channel blocks
// when dy is dilated.
func (c *ubCalculator) aKExtent() int64 {
	if c.pr.aub == ubDilate {
		return ceilDiv(c.st.L1.KAL1, c.pr.aWin.taps)
	}
	return c.st.L1.KAL1
}

func (c *ubCalculator) aubBytes(k, m int64) int64 {
	if c.pr.aub == ubDilate {
		w := c.pr.aWin
		rows := w.inRows(w.outRows(m))
		// dy tile plus its zero-inserted copy
		plane := satAdd(satMul(rows, w.inW), satMul(rows, w.strideH, w.inW, w.strideW))
		return satMul(k, c.pr.c0, c.pr.aBytes, plane)
	}
	// ND staging plus the fractal copy
	return satMul(k, m, fractalBytes, 2)
}

func (c *ubCalculator) pickAub(budget int64) (k, m, db, bytes int64) {
	ks := divisorsDesc(c.aKExtent())
	ms := divisorsDesc(c.st.L1.MAL1)
	for _, d := range []int64{2, 1} {
		bestK, bestM, bestBytes := int64(0), int64(0), int64(0)
		for _, kk := range ks {
			for _, mm := range ms {
				b := c.aubBytes(kk, mm)
				if satMul(b, d) > budget {
					continue
				}
				if kk*mm > bestK*bestM || (kk*mm == bestK*bestM && kk > bestK) {
					bestK, bestM, bestBytes = kk, mm, b
				}
			}
		}
		if bestK > 0 {
			return bestK, bestM, d, bestBytes
		}
	}
	return 1, 1, 1, c.aubBytes(1, 1)
}

// calcWiBub is the input width needed by kBub output pixel blocks.
func (c *ubCalculator) calcWiBub(kBub int64) int64 {
	w := c.pr.bWin
	pixels := kBub * w.pixelsPerBlock
	if pixels >= w.outW {
		return w.inW
	}
	return min(w.inW, (pixels-1)*w.strideW+w.kwDil)
}

// calcKBub is the number of input rows kBub output pixel blocks need,
// clamped to the feature map height.
func (c *ubCalculator) calcKBub(kBub int64) int64 {
	w := c.pr.bWin
	return w.inRows(w.outRows(kBub))
}

func (c *ubCalculator) bKExtent() int64 {
	return c.st.L1.KBL1
}

func (c *ubCalculator) bNExtent() int64 {
	if c.pr.bub == ubTranspose {
		return ceilDiv(c.st.L1.NBL1, c.pr.bWin.taps)
	}
	return c.st.L1.NBL1
}

func (c *ubCalculator) bubBytes(k, n int64) (int64, int64) {
	if c.pr.bub == ubTranspose {
		wi := c.calcWiBub(k)
		rows := c.calcKBub(k)
		// source tile plus its transposed copy
		return satMul(n, 16, rows, wi, c.pr.bBytes, 2), wi
	}
	return satMul(k, n, fractalBytes, 2), 1
}

func (c *ubCalculator) pickBub(budget int64) (k, n, db, bytes, wi int64) {
	ks := divisorsDesc(c.bKExtent())
	ns := divisorsDesc(c.bNExtent())
	for _, d := range []int64{2, 1} {
		bestK, bestN, bestBytes, bestWi := int64(0), int64(0), int64(0), int64(0)
		for _, kk := range ks {
			for _, nn := range ns {
				b, w := c.bubBytes(kk, nn)
				if satMul(b, d) > budget {
					continue
				}
				if kk*nn > bestK*bestN || (kk*nn == bestK*bestN && kk > bestK) {
					bestK, bestN, bestBytes, bestWi = kk, nn, b, w
				}
			}
		}
		if bestK > 0 {
			return bestK, bestN, d, bestBytes, bestWi
		}
	}
	b, w := c.bubBytes(1, 1)
	return 1, 1, 1, b, w
}
