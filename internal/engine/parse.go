package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/norm/timeline-daemon/internal/fault"
	"github.com/norm/timeline-daemon/internal/shellexec"
)

// Model responses arrive in three shapes, tried in order: a wrapped
// object with a named array field, a bare top-level array, and an array
// embedded in prose. Each stage gets one more try after escape stripping;
// the first success wins.

// locateArray returns the JSON array text found in raw, or false.
func locateArray(raw, wrapperKey string) (string, bool) {
	stages := []func(string) (string, bool){
		func(s string) (string, bool) { return wrappedArray(s, wrapperKey) },
		bareArray,
		embeddedArray,
	}
	for _, stage := range stages {
		if arr, ok := stage(raw); ok {
			return arr, true
		}
		if arr, ok := stage(shellexec.StripEscapes(raw)); ok {
			return arr, true
		}
	}
	return "", false
}

// wrappedArray handles {"<key>": [...], ...}. When the named field is
// absent, the first array-valued top-level field is accepted.
func wrappedArray(raw, key string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return "", false
	}
	if field := gjson.Get(trimmed, key); field.IsArray() {
		return field.Raw, true
	}
	var found string
	gjson.Parse(trimmed).ForEach(func(_, value gjson.Result) bool {
		if value.IsArray() {
			found = value.Raw
			return false
		}
		return true
	})
	return found, found != ""
}

// bareArray handles a response that is the array itself.
func bareArray(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "[") || !gjson.Valid(trimmed) {
		return "", false
	}
	return trimmed, true
}

// embeddedArray locates an array inside prose by scanning backward from
// the last `]` while tracking bracket balance until it returns to zero.
// Scanning from the end skips unrelated bracket text in preambles.
func embeddedArray(raw string) (string, bool) {
	end := strings.LastIndexByte(raw, ']')
	if end == -1 {
		return "", false
	}

	depth := 0
	inString := false
	for i := end; i >= 0; i-- {
		c := raw[i]
		if inString {
			// Leaving a string going backward: a quote not preceded by a
			// backslash closes it.
			if c == '"' && (i == 0 || raw[i-1] != '\\') {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case ']':
			depth++
		case '[':
			depth--
			if depth == 0 {
				candidate := raw[i : end+1]
				if gjson.Valid(candidate) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}

// decodeArray parses the located array text into dst.
func decodeArray(raw, wrapperKey string, dst any) error {
	arr, ok := locateArray(raw, wrapperKey)
	if !ok {
		return &fault.ParseError{
			Detail: fmt.Sprintf("no %q array in any accepted shape", wrapperKey),
			Raw:    clip(raw, 500),
		}
	}
	if err := json.Unmarshal([]byte(arr), dst); err != nil {
		return &fault.ParseError{
			Detail: fmt.Sprintf("%q array does not decode: %v", wrapperKey, err),
			Raw:    clip(arr, 500),
		}
	}
	return nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
