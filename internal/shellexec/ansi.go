package shellexec

import "regexp"

// Terminal-emulation layers (and ptys in particular) inject control
// sequences that corrupt embedded JSON, so every line is scrubbed before
// decoding.
var (
	csiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscPattern = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	soloEscape = regexp.MustCompile(`\x1b[@-_]`)
)

// StripEscapes removes ANSI CSI/OSC sequences, stray escape codes, and
// carriage returns from a line of subprocess output.
func StripEscapes(line string) string {
	line = oscPattern.ReplaceAllString(line, "")
	line = csiPattern.ReplaceAllString(line, "")
	line = soloEscape.ReplaceAllString(line, "")

	// Carriage returns from pty echo: keep only what the cursor would
	// have left visible is overkill here; dropping them is enough for
	// line-delimited JSON.
	out := make([]byte, 0, len(line))
	for i := 0; i < len(line); i++ {
		if line[i] == '\r' {
			continue
		}
		out = append(out, line[i])
	}
	return string(out)
}
