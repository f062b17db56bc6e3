package model

import "sort"

type interval struct {
	low, high float64
	value     interface{}
	// maxHigh augments the sorted interval array so subtree scans can stop early
	maxHigh float64
}

// IntervalTree indexes items by (low, high) ranges. Inserts are buffered;
// UpdateHighValues builds the augmented index, and FindIntersection builds
// it on demand when inserts arrived since the last build.
type IntervalTree struct {
	intervals []interval
	built     bool
}

func NewIntervalTree() *IntervalTree {
	return &IntervalTree{}
}

func (t *IntervalTree) Insert(low, high float64, value interface{}) {
	t.intervals = append(t.intervals, interval{low: low, high: high, value: value})
	t.built = false
}

func (t *IntervalTree) Size() int {
	return len(t.intervals)
}

// UpdateHighValues sorts the intervals by low endpoint and computes the
// augmented max-high values for the implicit balanced tree
func (t *IntervalTree) UpdateHighValues() {
	sort.SliceStable(t.intervals, func(i, j int) bool {
		return t.intervals[i].low < t.intervals[j].low
	})
	t.augment(0, len(t.intervals)-1)
	t.built = true
}

func (t *IntervalTree) augment(lo, hi int) float64 {
	if lo > hi {
		return 0
	}
	mid := (lo + hi) / 2
	maxHigh := t.intervals[mid].high
	if left := t.augment(lo, mid-1); lo <= mid-1 && left > maxHigh {
		maxHigh = left
	}
	if right := t.augment(mid+1, hi); mid+1 <= hi && right > maxHigh {
		maxHigh = right
	}
	t.intervals[mid].maxHigh = maxHigh
	return maxHigh
}

// FindIntersection returns the values of every interval overlapping
// [low, high], in low-endpoint order
func (t *IntervalTree) FindIntersection(low, high float64) []interface{} {
	if !t.built {
		t.UpdateHighValues()
	}
	var found []interface{}
	t.search(0, len(t.intervals)-1, low, high, &found)
	return found
}

func (t *IntervalTree) search(lo, hi int, low, high float64, found *[]interface{}) {
	if lo > hi {
		return
	}
	mid := (lo + hi) / 2
	node := t.intervals[mid]
	if node.maxHigh < low {
		return
	}
	t.search(lo, mid-1, low, high, found)
	if node.low <= high && node.high >= low {
		*found = append(*found, node.value)
	}
	if node.low > high {
		return
	}
	t.search(mid+1, hi, low, high, found)
}
