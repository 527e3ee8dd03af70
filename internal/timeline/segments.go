package timeline

import "fmt"

const (
	segmentMinCount = 2
	segmentMaxCount = 5

	// segmentBoundaryTol is the allowed slack, in seconds, at segment
	// boundaries and at the recording edges.
	segmentBoundaryTol = 2.0

	// segmentMinCoverage is the fraction of the recording that segments
	// must cover in total.
	segmentMinCoverage = 0.80
)

// ValidateSegments checks a screenshot-segmentation proposal against a
// recording of totalSeconds. Segments are [start, end) in seconds. The
// proposal must use 2-5 segments, cover at least 80% of the recording,
// start at zero and end at the full duration, all within a 2s tolerance.
func ValidateSegments(segments []TimeRange, totalSeconds float64) error {
	if len(segments) < segmentMinCount || len(segments) > segmentMaxCount {
		return fmt.Errorf("expected %d-%d segments, got %d", segmentMinCount, segmentMaxCount, len(segments))
	}

	for i, s := range segments {
		if s.End < s.Start {
			return fmt.Errorf("segment %d ends (%.1fs) before it starts (%.1fs)", i, s.End, s.Start)
		}
	}

	merged := MergeRanges(segments, 0)

	first := merged[0]
	if first.Start > segmentBoundaryTol {
		return fmt.Errorf("first segment starts at %.1fs, expected 0s", first.Start)
	}
	last := merged[len(merged)-1]
	if totalSeconds-last.End > segmentBoundaryTol {
		return fmt.Errorf("last segment ends at %.1fs, expected %.1fs", last.End, totalSeconds)
	}

	covered := TotalCoverage(segments)
	if totalSeconds > 0 && covered < totalSeconds*segmentMinCoverage {
		return fmt.Errorf("segments cover %.1fs of %.1fs (%.0f%%), need at least %.0f%%",
			covered, totalSeconds, 100*covered/totalSeconds, 100*segmentMinCoverage)
	}

	// Boundaries must abut: a hole wider than the tolerance between
	// consecutive merged segments is a rejection, not a rounding artifact.
	for i := 1; i < len(merged); i++ {
		gap := merged[i].Start - merged[i-1].End
		if gap > segmentBoundaryTol {
			return fmt.Errorf("gap of %.1fs between segments at %.1fs", gap, merged[i-1].End)
		}
	}

	return nil
}
