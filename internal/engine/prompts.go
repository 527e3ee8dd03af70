package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/norm/timeline-daemon/internal/timeline"
)

// CardsPrompt is the system instruction for timeline card generation.
const CardsPrompt = `You are an activity timeline builder. Given timestamped activity observations and the existing timeline cards for the same window, produce an updated set of activity cards.

Rules:
- Respond with JSON only: {"cards": [...]}.
- Each card: {"startTime": "9:00 AM", "endTime": "9:25 AM", "category": "...", "subcategory": "...", "title": "...", "summary": "...", "detailedSummary": "...", "distractions": [], "appSites": {"primary": "..."}}.
- Times are clock strings like "9:05 AM". Cards must be in chronological order and must not overlap.
- Every card except the last must span at least 10 minutes.
- Any time span covered by the existing cards must stay covered. Keep genuine gaps as gaps.
- Titles are specific ("Debugging payment webhook retries"), never generic ("Working").`

// TranscribePrompt is the system instruction for screenshot transcription.
const TranscribePrompt = `You are a screen activity transcriber. You receive an ordered series of screenshots from one recording chunk. Describe what the user was doing as a small set of observations.

Rules:
- Respond with JSON only: {"observations": [...]}.
- Each observation: {"startTs": <epoch seconds>, "endTs": <epoch seconds>, "observation": "..."}.
- Use 2-5 observations covering at least 80% of the chunk; the first starts at the chunk start and the last ends at the chunk end.
- Describe observable activity, not guesses about intent.`

// MergeDecisionPrompt asks for a boolean continuation decision.
const MergeDecisionPrompt = `You decide whether two adjacent timeline cards describe one continuous activity. Respond with JSON only: {"combine": true/false, "confidence": 0.0-1.0, "reason": "..."}. Combine only when the second card clearly continues the same task as the first.`

// MergeSynthesisPrompt asks for a single merged card body.
const MergeSynthesisPrompt = `Combine the two activity cards below into one. Respond with JSON only: {"title": "...", "summary": "...", "detailedSummary": "..."}. Keep the title specific and the summary faithful to both halves. Do not mention times; they are handled elsewhere.`

func buildCardsPrompt(base string, obs []timeline.Observation, existing []timeline.ActivityCard, categories []string) string {
	if base == "" {
		base = CardsPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nAllowed categories: ")
	b.WriteString(strings.Join(categories, ", "))

	b.WriteString("\n\nObservations:\n")
	for _, o := range obs {
		start := time.Unix(o.StartTs, 0).Format("3:04 PM")
		end := time.Unix(o.EndTs, 0).Format("3:04 PM")
		fmt.Fprintf(&b, "- [%s - %s] %s\n", start, end, o.Text)
	}

	if len(existing) > 0 {
		b.WriteString("\nExisting cards in this window (their covered time must remain covered):\n")
		for _, c := range existing {
			fmt.Fprintf(&b, "- [%s - %s] %s: %s\n", c.StartTime, c.EndTime, c.Title, c.Summary)
		}
	}

	return b.String()
}

func buildTranscribePrompt(base string, batchStart time.Time, shots []timeline.Screenshot) string {
	if base == "" {
		base = TranscribePrompt
	}

	var b strings.Builder
	b.WriteString(base)
	fmt.Fprintf(&b, "\n\nChunk starts at epoch %d (%s).\n", batchStart.Unix(), batchStart.Format("3:04:05 PM"))
	fmt.Fprintf(&b, "Screenshots (%d, in order):\n", len(shots))
	for i, s := range shots {
		fmt.Fprintf(&b, "- frame %d captured at epoch %d\n", i, s.CapturedTs)
	}
	return b.String()
}

// buildCorrection embeds the specific validation error. When fresh is
// true the correction is appended to the original prompt for a restarted
// attempt; otherwise it stands alone as a short session follow-up.
func buildCorrection(original, errText string, fresh bool) string {
	correction := fmt.Sprintf("Your previous response failed validation: %s\nProduce the corrected JSON now, following every rule.", errText)
	if fresh {
		return original + "\n\n" + correction
	}
	return correction
}

func buildMergeDecisionPrompt(base string, prev, next timeline.ActivityCard) string {
	if base == "" {
		base = MergeDecisionPrompt
	}
	return fmt.Sprintf("%s\n\nCard A [%s - %s] %s: %s\n\nCard B [%s - %s] %s: %s",
		base,
		prev.StartTime, prev.EndTime, prev.Title, prev.Summary,
		next.StartTime, next.EndTime, next.Title, next.Summary)
}

func buildMergeSynthesisPrompt(prev, next timeline.ActivityCard) string {
	return fmt.Sprintf("%s\n\nCard A [%s - %s] %s: %s\nDetails: %s\n\nCard B [%s - %s] %s: %s\nDetails: %s",
		MergeSynthesisPrompt,
		prev.StartTime, prev.EndTime, prev.Title, prev.Summary, prev.DetailedSummary,
		next.StartTime, next.EndTime, next.Title, next.Summary, next.DetailedSummary)
}
