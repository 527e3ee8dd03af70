package engine

import (
	"testing"

	"github.com/norm/timeline-daemon/internal/timeline"
)

func TestLocateArray(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{
			name: "wrapped object named field",
			raw:  `{"cards": [1,2], "note": "x"}`,
			want: `[1,2]`,
			ok:   true,
		},
		{
			name: "wrapped object other array field",
			raw:  `{"results": [3,4]}`,
			want: `[3,4]`,
			ok:   true,
		},
		{
			name: "bare array",
			raw:  ` [5,6] `,
			want: `[5,6]`,
			ok:   true,
		},
		{
			name: "prose embedded with unrelated brackets",
			raw:  `prose [a,[b]] trailing [1,2,3] more text`,
			want: `[1,2,3]`,
			ok:   true,
		},
		{
			name: "escaped wrapper",
			raw:  "\x1b[32m[7,8]\x1b[0m",
			want: `[7,8]`,
			ok:   true,
		},
		{
			name: "preamble then array",
			raw:  "Here is your timeline:\n[{\"title\":\"x\"}]",
			want: `[{"title":"x"}]`,
			ok:   true,
		},
		{
			name: "bracket inside string value",
			raw:  `result: [{"title":"uses ] bracket"}] done`,
			want: `[{"title":"uses ] bracket"}]`,
			ok:   true,
		},
		{
			name: "no array anywhere",
			raw:  `sorry, I could not produce cards`,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := locateArray(tt.raw, "cards")
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (got %q)", ok, tt.ok, got)
			}
			if ok && got != tt.want {
				t.Errorf("array = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeArrayIntoCards(t *testing.T) {
	raw := `Sure! {"cards": [{"startTime":"9:00 AM","endTime":"9:25 AM","category":"Work","title":"Writing","summary":"s"}]}`
	// The prose prefix makes the wrapped stage fail; the embedded stage
	// still finds the array.
	var cards []timeline.ActivityCard
	if err := decodeArray(raw, "cards", &cards); err != nil {
		t.Fatalf("decodeArray: %v", err)
	}
	if len(cards) != 1 || cards[0].Title != "Writing" {
		t.Errorf("cards = %+v", cards)
	}
}

func TestDecodeArrayReportsParseError(t *testing.T) {
	var cards []timeline.ActivityCard
	err := decodeArray("no structure here", "cards", &cards)
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLocateObject(t *testing.T) {
	obj, ok := locateObject(`The decision: {"combine": true, "reason": "same task"} hope that helps`)
	if !ok {
		t.Fatal("object not located")
	}
	if obj != `{"combine": true, "reason": "same task"}` {
		t.Errorf("obj = %q", obj)
	}
}
