package cubetiling

import (
	"math"

	"github.com/samcharles93/cubetile/internal/logger"
)

// Upper bound on the multipliers tried per L1 axis.
const l1FactorLimit = 16

type l1Candidate struct {
	st    L1Status
	cost  int64
	dbs   int64
	scope int64
}

func (c l1Candidate) better(o l1Candidate) bool {
	if c.cost != o.cost {
		return c.cost < o.cost
	}
	if c.dbs != o.dbs {
		return c.dbs > o.dbs
	}
	return c.scope < o.scope
}

// neitherFullLoadSize is the GM traffic when neither operand stays resident.
// An operand whose tile spans all of K is loaded once per tile of its own
// axis; otherwise it is reloaded for every tile of the other axis.
func neitherFullLoadSize(aTotal, bTotal, mT, nT int64, aFullK, bFullK bool) int64 {
	switch {
	case aFullK && bFullK:
		return min(satAdd(aTotal, satMul(bTotal, mT)), satAdd(bTotal, satMul(aTotal, nT)))
	case aFullK:
		return satAdd(aTotal, satMul(bTotal, mT))
	case bFullK:
		return satAdd(bTotal, satMul(aTotal, nT))
	default:
		return satAdd(satMul(aTotal, nT), satMul(bTotal, mT))
	}
}

// l1Calculator grows the L0 seed into L1 staging tiles by integer
// multiples and keeps the candidate with the least GM traffic.
type l1Calculator struct {
	pr  *problem
	st  *SingleCoreStatus
	log logger.Logger
}

func (c *l1Calculator) Init(pr *problem, st *SingleCoreStatus, log logger.Logger) {
	c.pr, c.st, c.log = pr, st, log
}

func (c *l1Calculator) Clear() {
	c.pr, c.st, c.log = nil, nil, nil
}

func (c *l1Calculator) Exec() bool {
	l0 := c.st.L0
	sc := c.st.Single
	mT0 := ceilDiv(sc.M, l0.M0)
	nT0 := ceilDiv(sc.N, l0.N0)
	kT0 := ceilDiv(sc.K, l0.K0)

	ams := thin(tileSizes(mT0, mT0), l1FactorLimit)
	bns := thin(tileSizes(nT0, nT0), l1FactorLimit)
	ks := thin(tileSizes(kT0, kT0), l1FactorLimit)

	var best l1Candidate
	found := false
	for _, am := range ams {
		for _, ka := range ks {
			for _, kb := range ks {
				if max(ka, kb)%min(ka, kb) != 0 {
					continue
				}
				for _, bn := range bns {
					cand, ok := c.evaluate(am, ka, kb, bn)
					if ok && (!found || cand.better(best)) {
						best, found = cand, true
					}
				}
			}
		}
	}
	if !found {
		c.log.Debug("no l1 tile fits", "op", c.pr.op, "l0", l0)
		return false
	}
	c.st.L1 = best.st
	c.calcL1RemainStatus()
	c.log.Debug("l1 tile selected", "m_al1", best.st.MAL1, "k_al1", best.st.KAL1, "k_bl1", best.st.KBL1,
		"n_bl1", best.st.NBL1, "load_type", best.st.LoadType, "cost", best.cost)
	return true
}

func (c *l1Calculator) evaluate(am, ka, kb, bn int64) (l1Candidate, bool) {
	l0 := c.st.L0
	l1Size := c.pr.plat.L1Size

	st := L1Status{
		MAL1: am * l0.M0,
		KAL1: ka * l0.K0,
		KBL1: kb * l0.K0,
		NBL1: bn * l0.N0,
	}
	if st.MAL1 > math.MaxInt32 || st.KAL1 > math.MaxInt32 || st.KBL1 > math.MaxInt32 || st.NBL1 > math.MaxInt32 {
		return l1Candidate{}, false
	}
	st.AL1Bound = c.pr.aL1Bound(st.MAL1, st.KAL1)
	st.BL1Bound = c.pr.bL1Bound(st.KBL1, st.NBL1)
	st.BiasBytes = c.pr.biasL1Bytes(st.NBL1)
	if satAdd(satAdd(st.AL1Bound, st.BL1Bound), st.BiasBytes) > l1Size || st.AL1Bound > math.MaxInt32 || st.BL1Bound > math.MaxInt32 {
		return l1Candidate{}, false
	}

	cost := classifyL1(&st, l0, c.st.Single)

	st.DbAL1, st.DbBL1 = 1, 1
	for _, db := range [][2]int64{{2, 2}, {2, 1}, {1, 2}} {
		if (st.AL1Attach == attachFull && db[0] == 2) || (st.BL1Attach == attachFull && db[1] == 2) {
			continue
		}
		if satAdd(satAdd(satMul(st.AL1Bound, db[0]), satMul(st.BL1Bound, db[1])), st.BiasBytes) <= l1Size {
			st.DbAL1, st.DbBL1 = db[0], db[1]
			break
		}
	}

	return l1Candidate{
		st:    st,
		cost:  cost,
		dbs:   st.DbAL1 + st.DbBL1,
		scope: st.Used(),
	}, true
}

// classifyL1 sets the load type and attach fields of st for the per-core
// extents sc and returns its GM traffic. The L1 bounds must be set.
func classifyL1(st *L1Status, l0 L0Status, sc SingleCore) int64 {
	mT0 := ceilDiv(sc.M, l0.M0)
	nT0 := ceilDiv(sc.N, l0.N0)
	kT0 := ceilDiv(sc.K, l0.K0)
	am, bn := st.MAL1/l0.M0, st.NBL1/l0.N0
	ka, kb := st.KAL1/l0.K0, st.KBL1/l0.K0

	mT1 := ceilDiv(mT0, am)
	nT1 := ceilDiv(nT0, bn)
	aFullK := ka >= kT0
	bFullK := kb >= kT0
	fullA := aFullK && mT1 == 1
	fullB := bFullK && nT1 == 1

	aTotal := satMul(st.AL1Bound, mT1, ceilDiv(kT0, ka))
	bTotal := satMul(st.BL1Bound, nT1, ceilDiv(kT0, kb))
	var cost int64
	switch {
	case fullA && fullB:
		st.LoadType = LoadFullAB
		cost = satAdd(aTotal, bTotal)
	case fullA:
		st.LoadType = LoadFullA
		cost = satAdd(aTotal, bTotal)
	case fullB:
		st.LoadType = LoadFullB
		cost = satAdd(aTotal, bTotal)
	default:
		st.LoadType = LoadNeither
		cost = neitherFullLoadSize(aTotal, bTotal, mT1, nT1, aFullK, bFullK)
	}

	st.AL1Attach = attachOf(fullA, aFullK)
	st.BL1Attach = attachOf(fullB, bFullK)
	st.ABKL1Attach = 0
	switch {
	case st.KAL1 > st.KBL1:
		st.ABKL1Attach = 1
	case st.KAL1 < st.KBL1:
		st.ABKL1Attach = 2
	}
	return cost
}

func attachOf(full, fullK bool) int64 {
	switch {
	case full:
		return attachFull
	case fullK:
		return attachKFull
	}
	return attachInLoop
}

// calcL1RemainStatus spends leftover L1 on ping-pong buffers the
// candidate search did not grant.
func (c *l1Calculator) calcL1RemainStatus() {
	st := &c.st.L1
	remain := c.pr.plat.L1Size - st.Used()
	if st.DbAL1 == 1 && st.AL1Attach != attachFull && st.AL1Bound <= remain {
		st.DbAL1 = 2
		remain -= st.AL1Bound
	}
	if st.DbBL1 == 1 && st.BL1Attach != attachFull && st.BL1Bound <= remain {
		st.DbBL1 = 2
	}
}
