package selector

// arrivalLess hands out items in the order they were queued.
var arrivalLess = func(a, b Item) bool {
	return a.Seq < b.Seq
}
