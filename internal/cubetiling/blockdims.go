package cubetiling

import (
	"math"

	"github.com/samcharles93/cubetile/internal/logger"
)

type blockDimsCandidate struct {
	dims DimFactor
	load int64
	mad  int64
	skew int64
}

func (c blockDimsCandidate) better(o blockDimsCandidate) bool {
	if c.load != o.load {
		return c.load < o.load
	}
	if c.mad != o.mad {
		return c.mad < o.mad
	}
	if c.skew != o.skew {
		return c.skew < o.skew
	}
	if c.dims.K != o.dims.K {
		return c.dims.K < o.dims.K
	}
	return c.dims.Cores() < o.dims.Cores()
}

// blockDimsCalculator splits the problem across cores. It enumerates
// every split whose core product fits the platform and keeps the one with
// the smallest per-core GM traffic.
type blockDimsCalculator struct {
	pr        *problem
	st        *SingleCoreStatus
	log       logger.Logger
	evaluated int
}

func (c *blockDimsCalculator) Init(pr *problem, st *SingleCoreStatus, log logger.Logger) {
	c.pr, c.st, c.log = pr, st, log
	c.evaluated = 0
}

func (c *blockDimsCalculator) Clear() {
	c.pr, c.st, c.log = nil, nil, nil
}

// Exec always succeeds. When no split keeps the per-core loop within
// int32 it falls back to a single core and marks the status.
func (c *blockDimsCalculator) Exec() bool {
	s := c.st.Shape
	cores := c.pr.plat.CoreNum

	batches := splitCounts(s.Batch, cores)
	groups := splitCounts(s.Group, cores)
	ns := splitCounts(s.N, cores)
	ms := splitCounts(s.M, cores)
	ks := []int64{1}
	if c.pr.kSplit {
		ks = splitCounts(s.K, cores)
	}

	var best blockDimsCandidate
	found := false
	for _, bf := range batches {
		for _, gf := range groups {
			if bf*gf > cores {
				break
			}
			for _, nf := range ns {
				if bf*gf*nf > cores {
					break
				}
				for _, mf := range ms {
					if bf*gf*nf*mf > cores {
						break
					}
					for _, kf := range ks {
						if bf*gf*nf*mf*kf > cores {
							break
						}
						cand, ok := c.evaluate(DimFactor{Batch: bf, N: nf, M: mf, K: kf, Group: gf})
						if ok && (!found || cand.better(best)) {
							best, found = cand, true
						}
					}
				}
			}
		}
	}

	if !found {
		c.log.Warn("no multi-core split keeps the core loop in range, using a single core",
			"op", c.pr.op, "batch", s.Batch, "m", s.M, "k", s.K, "n", s.N, "group", s.Group)
		c.st.setBlock(DimFactor{Batch: 1, N: 1, M: 1, K: 1, Group: 1})
		c.st.Fallback = true
		return true
	}
	c.st.setBlock(best.dims)
	c.log.Debug("block dims selected", "dims", best.dims, "load", best.load, "mad", best.mad, "evaluated", c.evaluated)
	return true
}

func (c *blockDimsCalculator) evaluate(d DimFactor) (blockDimsCandidate, bool) {
	c.evaluated++
	s := c.st.Shape
	bsc := ceilDiv(s.Batch, d.Batch)
	gsc := ceilDiv(s.Group, d.Group)
	msc := ceilDiv(s.M, d.M)
	nsc := ceilDiv(s.N, d.N)
	ksc := ceilDiv(s.K, d.K)

	mad := satMul(bsc, gsc, msc, nsc, ksc)
	if mad > math.MaxInt32 {
		return blockDimsCandidate{}, false
	}

	// window operands are charged for the input rows they read
	aBytes := satMul(bsc, gsc, c.pr.aL1Bound(msc, ksc))
	bBatch := int64(1)
	if c.pr.bBatched {
		bBatch = bsc
	}
	bBytes := satMul(bBatch, gsc, c.pr.bL1Bound(ksc, nsc))
	cBatch := bsc
	if c.pr.batchReduces {
		cBatch = 1
	}
	cBytes := satMul(cBatch, gsc, msc, nsc, 256, c.pr.cBytes)
	if c.pr.atomicOut(d) {
		// read-modify-write of the partial result
		cBytes = satMul(cBytes, 2)
	}

	return blockDimsCandidate{
		dims: d,
		load: satAdd(satAdd(aBytes, bBytes), cBytes),
		mad:  mad,
		skew: abs64(msc - nsc),
	}, true
}
