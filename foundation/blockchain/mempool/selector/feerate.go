package selector

// feeRateLess hands out the best advertised fee per cost first. Items paying
// the same rate go in arrival order.
var feeRateLess = func(a, b Item) bool {
	switch CompareFeeRate(a, b) {
	case 1:
		return true
	case -1:
		return false
	}

	return a.Seq < b.Seq
}
