package domain

// Window is a half-open time interval [Start, End) in Unix nanoseconds.
// Windows for a given size are contiguous and non-overlapping; every event
// timestamp belongs to exactly one window.
type Window struct {
	Start int64 // inclusive, Unix nanoseconds
	End   int64 // exclusive, Unix nanoseconds
}

// WindowAt returns the window of the given size containing ts.
// An event exactly at a window boundary belongs to the next window.
func WindowAt(ts, size int64) Window {
	start := (ts / size) * size
	return Window{Start: start, End: start + size}
}

// Contains reports whether ts falls inside the half-open interval.
func (w Window) Contains(ts int64) bool {
	return ts >= w.Start && ts < w.End
}

// Next returns the immediately following window of the same size.
func (w Window) Next() Window {
	size := w.End - w.Start
	return Window{Start: w.End, End: w.End + size}
}
