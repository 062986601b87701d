package detector

// Scale fixed-point factor for ratio features.
const Scale int64 = 1000

func sum(values []int64) int64 {
	var s int64
	for _, v := range values {
		s += v
	}
	return s
}

func mean(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / int64(len(values))
}

func minMax(values []int64) (lo, hi int64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// tail returns the last n values (or all when fewer).
func tail(values []int64, n int) []int64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}
