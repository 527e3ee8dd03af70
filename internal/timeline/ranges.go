package timeline

import (
	"errors"
	"sort"
)

// TimeRange is a half-open [Start, End) interval. Units are whatever the
// caller works in (minutes for cards, seconds for video segments).
type TimeRange struct {
	Start float64
	End   float64
}

// Duration returns End - Start, clamped at zero.
func (r TimeRange) Duration() float64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// ErrSafetyLimit is returned when the coverage walk exceeds its iteration
// cap instead of looping forever on degenerate input.
var ErrSafetyLimit = errors.New("timeline: coverage walk exceeded safety limit")

// coverageWalkCap bounds the coverage walk across one validation call.
const coverageWalkCap = 10000

// epsilon below which float spans are treated as empty.
const epsilon = 0.01

// MergeRanges merges overlapping or near-adjacent ranges. Two ranges merge
// when the gap between them is at most gapTolerance. The input is not
// modified; the result is sorted by start. Idempotent and independent of
// input ordering.
func MergeRanges(ranges []TimeRange, gapTolerance float64) []TimeRange {
	if len(ranges) == 0 {
		return nil
	}

	sorted := make([]TimeRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	merged := []TimeRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End+gapTolerance {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// TotalCoverage returns the summed duration of the input after merging
// exact overlaps (zero gap tolerance).
func TotalCoverage(ranges []TimeRange) float64 {
	var total float64
	for _, r := range MergeRanges(ranges, 0) {
		total += r.Duration()
	}
	return total
}

// Gaps returns the uncovered spans of whole not covered by ranges.
func Gaps(ranges []TimeRange, whole TimeRange) []TimeRange {
	var gaps []TimeRange
	pos := whole.Start
	for _, r := range MergeRanges(ranges, 0) {
		if r.End <= whole.Start || r.Start >= whole.End {
			continue
		}
		if r.Start > pos+epsilon {
			end := r.Start
			if end > whole.End {
				end = whole.End
			}
			gaps = append(gaps, TimeRange{Start: pos, End: end})
		}
		if r.End > pos {
			pos = r.End
		}
	}
	if pos < whole.End-epsilon {
		gaps = append(gaps, TimeRange{Start: pos, End: whole.End})
	}
	return gaps
}

// Overlaps returns the pairwise-overlapping spans of the input.
func Overlaps(ranges []TimeRange) []TimeRange {
	sorted := make([]TimeRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var overlaps []TimeRange
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Start < prev.End-epsilon {
			end := prev.End
			if cur.End < end {
				end = cur.End
			}
			overlaps = append(overlaps, TimeRange{Start: cur.Start, End: end})
		}
	}
	return overlaps
}

// UncoveredSpans reports the parts of existing coverage that newRanges fail
// to cover within tolerance. Existing ranges are first merged with a small
// gap allowance so genuine pre-existing gaps are never demanded back. The
// walk requires a new range whose inflated [start-tol, end+tol] contains
// the current position; partial overlap from a range that ends inside a gap
// is not credited.
func UncoveredSpans(existing, newRanges []TimeRange, tolerance float64) ([]TimeRange, error) {
	if len(existing) == 0 {
		return nil, nil
	}

	mergedExisting := MergeRanges(existing, 1.0)
	candidates := MergeRanges(newRanges, 0)

	var uncovered []TimeRange
	iterations := 0

	for _, span := range mergedExisting {
		pos := span.Start
		for pos < span.End-epsilon {
			iterations++
			if iterations > coverageWalkCap {
				return nil, ErrSafetyLimit
			}

			// Best covering candidate: contains pos within tolerance and
			// actually advances the walk.
			best := -1
			for i, c := range candidates {
				if c.Start-tolerance <= pos && pos <= c.End+tolerance && c.End > pos {
					if best == -1 || c.End > candidates[best].End {
						best = i
					}
				}
			}
			if best != -1 {
				pos = candidates[best].End
				continue
			}

			// No cover here: skip to the next candidate start, recording
			// the hole, or give up on the rest of the span.
			next := -1
			for i, c := range candidates {
				if c.Start > pos {
					next = i
					break
				}
			}
			if next == -1 || candidates[next].Start >= span.End {
				uncovered = append(uncovered, TimeRange{Start: pos, End: span.End})
				break
			}
			uncovered = append(uncovered, TimeRange{Start: pos, End: candidates[next].Start})
			pos = candidates[next].Start
		}
	}

	// Drop float-noise slivers.
	kept := uncovered[:0]
	for _, u := range uncovered {
		if u.Duration() > epsilon {
			kept = append(kept, u)
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}
	return kept, nil
}
