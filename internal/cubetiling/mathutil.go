package cubetiling

import (
	"math"
	"slices"
)

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func alignUp(a, b int64) int64 {
	return ceilDiv(a, b) * b
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}

// splitCounts lists the core counts t <= limit that split dim into
// ceil(dim/t) sized chunks with no empty trailing chunk.
func splitCounts(dim, limit int64) []int64 {
	if limit > dim {
		limit = dim
	}
	out := make([]int64, 0, 16)
	for t := int64(1); t <= limit; t++ {
		if ceilDiv(dim, ceilDiv(dim, t)) == t {
			out = append(out, t)
		}
	}
	return out
}

// tileSizes lists, in ascending order, the smallest tile size for every
// distinct tile count of dim, keeping sizes up to limit.
func tileSizes(dim, limit int64) []int64 {
	var desc []int64
	for t := int64(1); t <= dim; {
		s := ceilDiv(dim, t)
		if s <= limit {
			desc = append(desc, s)
		}
		if s == 1 {
			break
		}
		t = (dim-1)/(s-1) + 1
	}
	slices.Reverse(desc)
	return desc
}

// divisorsDesc returns the divisors of n, largest first.
func divisorsDesc(n int64) []int64 {
	var lo, hi []int64
	for i := int64(1); i*i <= n; i++ {
		if n%i == 0 {
			lo = append(lo, i)
			if i != n/i {
				hi = append(hi, n/i)
			}
		}
	}
	out := make([]int64, 0, len(lo)+len(hi))
	out = append(out, hi...)
	for i := len(lo) - 1; i >= 0; i-- {
		out = append(out, lo[i])
	}
	return out
}

// thin keeps at most limit entries of an ascending list, always keeping
// both ends and spreading the rest evenly.
func thin(list []int64, limit int) []int64 {
	if len(list) <= limit || limit < 2 {
		return list
	}
	out := make([]int64, 0, limit)
	last := -1
	for i := range limit {
		idx := i * (len(list) - 1) / (limit - 1)
		if idx != last {
			out = append(out, list[idx])
			last = idx
		}
	}
	return out
}

// satMul multiplies non-negative values, saturating at math.MaxInt64.
func satMul(vals ...int64) int64 {
	out := int64(1)
	for _, v := range vals {
		if v != 0 && out > math.MaxInt64/v {
			return math.MaxInt64
		}
		out *= v
	}
	return out
}

func satAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
