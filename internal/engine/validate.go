package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/norm/timeline-daemon/internal/fault"
	"github.com/norm/timeline-daemon/internal/timeline"
)

const (
	// coverageToleranceMin is the boundary slack, in minutes, before a
	// mismatch counts as a lost span.
	coverageToleranceMin = 3.0

	// minCardMinutes is the floor for every card except the last in a set.
	minCardMinutes = 10.0
)

// validateCoverage checks that the time covered by existing cards stays
// covered by the new cards, within tolerance. Genuine pre-existing gaps
// are not demanded back.
func validateCoverage(existing, newCards []timeline.ActivityCard) error {
	if len(existing) == 0 {
		return nil
	}

	existingRanges, err := cardRanges(existing)
	if err != nil {
		return &fault.ValidationError{Detail: err.Error()}
	}
	newRanges, err := cardRanges(newCards)
	if err != nil {
		return &fault.ValidationError{Detail: err.Error()}
	}

	uncovered, err := timeline.UncoveredSpans(existingRanges, newRanges, coverageToleranceMin)
	if err != nil {
		if errors.Is(err, timeline.ErrSafetyLimit) {
			// Not a model problem; retrying the prompt will not help.
			return fmt.Errorf("engine: coverage safety limit exceeded: %w", err)
		}
		return err
	}
	if len(uncovered) == 0 {
		return nil
	}

	spans := make([]string, len(uncovered))
	for i, u := range uncovered {
		spans[i] = fmt.Sprintf("%s–%s (%.0f min)",
			timeline.FormatClockMinutes(u.Start),
			timeline.FormatClockMinutes(u.End),
			u.Duration())
	}
	return &fault.ValidationError{
		Detail: fmt.Sprintf("new cards leave previously covered time uncovered: %s", strings.Join(spans, ", ")),
	}
}

// validateDurations checks the minimum-duration invariant: every card but
// the last must span at least 10 minutes after rollover correction.
func validateDurations(cards []timeline.ActivityCard) error {
	for i, c := range cards {
		minutes, err := timeline.CardMinutes(c)
		if err != nil {
			return &fault.ValidationError{Detail: fmt.Sprintf("card %d (%q): %v", i, c.Title, err)}
		}
		if i < len(cards)-1 && minutes < minCardMinutes {
			return &fault.ValidationError{
				Detail: fmt.Sprintf("card %d (%q) spans %.0f minutes; every card except the last must span at least %.0f",
					i, c.Title, minutes, minCardMinutes),
			}
		}
	}
	return nil
}

func cardRanges(cards []timeline.ActivityCard) ([]timeline.TimeRange, error) {
	ranges := make([]timeline.TimeRange, 0, len(cards))
	for _, c := range cards {
		r, err := timeline.CardRange(c)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}
