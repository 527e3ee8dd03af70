// Package timeline holds the core data model (observations, activity
// cards) and the pure interval math shared by the validators.
package timeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Observation is one atomic activity description transcribed from a
// recording chunk. Immutable once created.
type Observation struct {
	BatchID     string `json:"batchId,omitempty"`
	StartTs     int64  `json:"startTs"` // epoch seconds
	EndTs       int64  `json:"endTs"`   // epoch seconds
	Text        string `json:"observation"`
	LLMModel    string `json:"llmModel,omitempty"`
	CreatedAtTs int64  `json:"createdAtTs,omitempty"`
}

// Duration returns the observed span.
func (o Observation) Duration() time.Duration {
	return time.Duration(o.EndTs-o.StartTs) * time.Second
}

// Screenshot is one captured asset handed in by the capture collaborator.
type Screenshot struct {
	Path       string `json:"path"`
	CapturedTs int64  `json:"capturedTs"` // epoch seconds
}

// Distraction is a short off-task interval inside a card.
type Distraction struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
}

// AppSites attributes a card to the applications or sites that dominated it.
type AppSites struct {
	Primary   string `json:"primary,omitempty"`
	Secondary string `json:"secondary,omitempty"`
}

// ActivityCard is one synthesized timeline entry. Start and end are clock
// strings ("9:10 AM"); a card whose end parses earlier than its start is
// treated as crossing midnight.
type ActivityCard struct {
	StartTime       string        `json:"startTime"`
	EndTime         string        `json:"endTime"`
	Category        string        `json:"category"`
	Subcategory     string        `json:"subcategory,omitempty"`
	Title           string        `json:"title"`
	Summary         string        `json:"summary"`
	DetailedSummary string        `json:"detailedSummary,omitempty"`
	Distractions    []Distraction `json:"distractions,omitempty"`
	AppSites        *AppSites     `json:"appSites,omitempty"`
}

const minutesPerDay = 24 * 60

// ParseClockMinutes parses a clock string into minutes since midnight.
// Accepts "3:04 PM", "3:04PM", "03:04 pm", and 24-hour "15:04".
func ParseClockMinutes(s string) (float64, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("timeline: empty clock string")
	}

	upper := strings.ToUpper(raw)
	meridiem := ""
	for _, suffix := range []string{"AM", "PM", "A.M.", "P.M."} {
		if strings.HasSuffix(upper, suffix) {
			meridiem = suffix[:1]
			upper = strings.TrimSpace(strings.TrimSuffix(upper, suffix))
			break
		}
	}

	parts := strings.Split(upper, ":")
	if len(parts) < 2 {
		return 0, fmt.Errorf("timeline: bad clock string %q", s)
	}
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, fmt.Errorf("timeline: bad hour in %q", s)
	}
	minute, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("timeline: bad minute in %q", s)
	}

	switch meridiem {
	case "A":
		if hour == 12 {
			hour = 0
		}
	case "P":
		if hour != 12 {
			hour += 12
		}
	}
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("timeline: bad hour in %q", s)
	}

	return float64(hour*60 + minute), nil
}

// FormatClockMinutes renders minutes-since-midnight as "3:04 PM",
// wrapping values past midnight back into the day.
func FormatClockMinutes(m float64) string {
	total := int(m) % minutesPerDay
	if total < 0 {
		total += minutesPerDay
	}
	hour := total / 60
	minute := total % 60
	meridiem := "AM"
	display := hour
	switch {
	case hour == 0:
		display = 12
	case hour == 12:
		meridiem = "PM"
	case hour > 12:
		display = hour - 12
		meridiem = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", display, minute, meridiem)
}

// CardRange returns the card's interval in minutes since midnight with
// day-rollover correction: an end earlier than the start gains 24h.
func CardRange(c ActivityCard) (TimeRange, error) {
	start, err := ParseClockMinutes(c.StartTime)
	if err != nil {
		return TimeRange{}, fmt.Errorf("card %q start: %w", c.Title, err)
	}
	end, err := ParseClockMinutes(c.EndTime)
	if err != nil {
		return TimeRange{}, fmt.Errorf("card %q end: %w", c.Title, err)
	}
	if end < start {
		end += minutesPerDay
	}
	return TimeRange{Start: start, End: end}, nil
}

// CardMinutes returns the card's duration in minutes after rollover
// correction.
func CardMinutes(c ActivityCard) (float64, error) {
	r, err := CardRange(c)
	if err != nil {
		return 0, err
	}
	return r.Duration(), nil
}
