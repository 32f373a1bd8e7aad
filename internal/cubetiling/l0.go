package cubetiling

import "github.com/samcharles93/cubetile/internal/logger"

// Upper bound on the candidate values tried per L0 axis.
const l0FactorLimit = 32

type l0Candidate struct {
	st   L0Status
	cost int64
}

func (c l0Candidate) used() int64 {
	return c.st.M0 * c.st.N0 * c.st.DbL0C
}

func (c l0Candidate) better(o l0Candidate) bool {
	if c.cost != o.cost {
		return c.cost < o.cost
	}
	if c.used() != o.used() {
		return c.used() > o.used()
	}
	if c.st.K0 != o.st.K0 {
		return c.st.K0 < o.st.K0
	}
	return c.st.M0 > o.st.M0
}

// l0Calculator picks (m0, k0, n0) and the L0 ping-pong flags for the
// per-core problem, then seeds L1 with the same tile.
type l0Calculator struct {
	pr  *problem
	st  *SingleCoreStatus
	log logger.Logger
}

func (c *l0Calculator) Init(pr *problem, st *SingleCoreStatus, log logger.Logger) {
	c.pr, c.st, c.log = pr, st, log
}

func (c *l0Calculator) Clear() {
	c.pr, c.st, c.log = nil, nil, nil
}

func (c *l0Calculator) Exec() bool {
	for _, db := range [][2]int64{{2, 2}, {1, 1}} {
		if best, ok := c.search(db[0], db[1]); ok {
			c.st.L0 = best.st
			c.seedL1()
			c.log.Debug("l0 tile selected", "m0", best.st.M0, "k0", best.st.K0, "n0", best.st.N0,
				"db_l0c", best.st.DbL0C, "cost", best.cost)
			return true
		}
	}
	c.log.Debug("no l0 tile fits", "op", c.pr.op, "single", c.st.Single)
	return false
}

func (c *l0Calculator) search(dbA, dbB int64) (l0Candidate, bool) {
	plat := c.pr.plat
	sc := c.st.Single

	// m0 is capped so UB can still drain one n block of the tile.
	ub := ubCalculator{pr: c.pr}
	mCap := min(sc.M, plat.L0ASize/(fractalBytes*dbA), max(ub.maxM0(), 1))
	nCap := min(sc.N, plat.L0BSize/(fractalBytes*dbB))
	kCap := min(sc.K, plat.L0ASize/(fractalBytes*dbA), plat.L0BSize/(fractalBytes*dbB))
	if mCap < 1 || nCap < 1 || kCap < 1 {
		return l0Candidate{}, false
	}
	ms := thin(tileSizes(sc.M, mCap), l0FactorLimit)
	ns := thin(tileSizes(sc.N, nCap), l0FactorLimit)
	ks := thin(tileSizes(sc.K, kCap), l0FactorLimit)

	aTotal := satMul(sc.M, sc.K)
	bTotal := satMul(sc.K, sc.N)

	var best l0Candidate
	found := false
	for _, dbC := range []int64{2, 1} {
		for _, m0 := range ms {
			for _, n0 := range ns {
				if satMul(m0, n0, 256*accBytes, dbC) > plat.L0CSize {
					continue
				}
				mT := ceilDiv(sc.M, m0)
				nT := ceilDiv(sc.N, n0)
				for _, k0 := range ks {
					if satMul(m0, k0, fractalBytes, dbA) > plat.L0ASize || satMul(k0, n0, fractalBytes, dbB) > plat.L0BSize {
						continue
					}
					seed := c.pr.aL1Bound(m0, k0) + c.pr.bL1Bound(k0, n0) + c.pr.biasL1Bytes(n0)
					if seed > plat.L1Size {
						continue
					}
					var cost int64
					if k0 >= sc.K {
						cost = min(satAdd(aTotal, satMul(bTotal, mT)), satAdd(bTotal, satMul(aTotal, nT)))
					} else {
						cost = satAdd(satMul(aTotal, nT), satMul(bTotal, mT))
					}
					cand := l0Candidate{
						st:   L0Status{M0: m0, K0: k0, N0: n0, DbL0A: dbA, DbL0B: dbB, DbL0C: dbC},
						cost: cost,
					}
					if !found || cand.better(best) {
						best, found = cand, true
					}
				}
			}
		}
	}
	return best, found
}

func (c *l0Calculator) seedL1() {
	l0 := c.st.L0
	c.st.L1 = L1Status{
		MAL1:  l0.M0,
		KAL1:  l0.K0,
		KBL1:  l0.K0,
		NBL1:  l0.N0,
		DbAL1: 1,
		DbBL1: 1,
	}
}
