package core

import (
	"strconv"
	"strings"

	"pkt.systems/termai/schema"
)

// captureMode selects how stream events are processed.
type captureMode int

const (
	captureIdle captureMode = iota
	captureActive
)

// captureState tracks one in-flight command capture. Exactly one exists
// per session; the session loop is its only writer. startOffset, when
// set, never exceeds the buffer length at activation time.
type captureState struct {
	mode        captureMode
	command     string
	sent        string
	startOffset int
	startRow    int
}

func (c *captureState) activate(command string, offset, row int) {
	c.mode = captureActive
	c.command = command
	c.startOffset = offset
	c.startRow = row
}

func (c *captureState) reset() {
	c.mode = captureIdle
	c.command = ""
	c.sent = ""
	c.startOffset = -1
	c.startRow = -1
}

// shift compensates the start offset after the buffer trimmed its front.
// A mark older than the trim clamps to zero: the retained bytes are
// still the command's output, only its head was lost.
func (c *captureState) shift(trimmed int) {
	if c.mode != captureActive || trimmed <= 0 {
		return
	}
	c.startOffset -= trimmed
	if c.startOffset < 0 {
		c.startOffset = 0
	}
}

// MarkOutputStart records the boundary for a command about to be
// transmitted: the current buffer length and the cursor's on-screen row.
// It must be called synchronously at the submission keystroke, before any
// further bytes arrive.
func MarkOutputStart(b *rawBuffer) (offset, row int) {
	return b.Len(), b.CursorRow()
}

// ExtractChunk returns the suffix of buffer from offset to the end. An
// offset beyond the current length (the buffer was reset or trimmed)
// yields the empty string.
func ExtractChunk(buffer string, offset int) string {
	if offset < 0 || offset > len(buffer) {
		return ""
	}
	return buffer[offset:]
}

// StripExitCodeMarker removes the line holding the last exit-code marker
// and returns the parsed code. Absent or malformed markers leave the
// chunk unchanged with ok false. Idempotent on already-cleaned text.
func StripExitCodeMarker(chunk string) (cleaned string, code int, ok bool) {
	cleaned, value, ok := stripMarkerLine(chunk, schema.ExitCodeMarker, parseSignedInt)
	if !ok {
		return chunk, 0, false
	}
	code, err := strconv.Atoi(value)
	if err != nil {
		return chunk, 0, false
	}
	return cleaned, code, true
}

// StripCwdMarker removes the line holding the last working-directory
// marker and returns the absolute path it carried. Independent of the
// exit-code marker: either, both, or neither may be present, in any order.
func StripCwdMarker(chunk string) (cleaned, cwd string, ok bool) {
	cleaned, cwd, ok = stripMarkerLine(chunk, schema.CwdMarker, parseAbsolutePath)
	if !ok {
		return chunk, "", false
	}
	return cleaned, cwd, true
}

// stripMarkerLine finds the last occurrence of marker, validates the
// value that follows it via parse, and removes the whole line containing
// the marker: back to the preceding newline and past the trailing one.
func stripMarkerLine(chunk, marker string, parse func(string) (string, bool)) (string, string, bool) {
	idx := strings.LastIndex(chunk, marker)
	if idx < 0 {
		return chunk, "", false
	}
	valueStart := idx + len(marker)
	lineEnd := len(chunk)
	if nl := strings.IndexByte(chunk[valueStart:], '\n'); nl >= 0 {
		lineEnd = valueStart + nl
	}
	value, ok := parse(strings.TrimRight(chunk[valueStart:lineEnd], "\r"))
	if !ok {
		return chunk, "", false
	}
	lineStart := strings.LastIndexByte(chunk[:idx], '\n') + 1
	tail := ""
	if lineEnd < len(chunk) {
		tail = chunk[lineEnd+1:]
	}
	return chunk[:lineStart] + tail, value, true
}

// parseSignedInt accepts an optional sign followed by digits, ignoring
// any trailing text on the line.
func parseSignedInt(value string) (string, bool) {
	i := 0
	if i < len(value) && (value[i] == '+' || value[i] == '-') {
		i++
	}
	start := i
	for i < len(value) && value[i] >= '0' && value[i] <= '9' {
		i++
	}
	if i == start {
		return "", false
	}
	return value[:i], true
}

func parseAbsolutePath(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "/") {
		return "", false
	}
	return value, true
}

// TrimEcho removes the echoed command from the front of a captured chunk.
// The scan walks the chunk skipping CSI spans (ESC [ ... final byte) and
// CR/LF, consuming the command verbatim. A partial match is accepted once
// characters diverge after at least one matched character (the echo may
// be truncated or overwritten). If nothing matched the chunk is returned
// unchanged; otherwise one following CR/LF pair is consumed and the
// remainder is trimmed of surrounding whitespace.
func TrimEcho(command, chunk string) string {
	if command == "" || chunk == "" {
		return chunk
	}
	i, j := 0, 0
	for i < len(chunk) && j < len(command) {
		c := chunk[i]
		if c == 0x1b && i+1 < len(chunk) && chunk[i+1] == '[' {
			k := i + 2
			for k < len(chunk) && (chunk[k] < 0x40 || chunk[k] > 0x7e) {
				k++
			}
			if k < len(chunk) {
				k++
			}
			i = k
			continue
		}
		if c == '\n' || c == '\r' {
			i++
			continue
		}
		if c != command[j] {
			break
		}
		i++
		j++
	}
	if j == 0 {
		return chunk
	}
	rest := chunk[i:]
	rest = strings.TrimPrefix(rest, "\r")
	rest = strings.TrimPrefix(rest, "\n")
	return strings.TrimSpace(rest)
}
