package core

import (
	"bytes"
	"strings"

	"pkt.systems/termai/schema"
)

const defaultMaxBytes = schema.DefaultBufferMaxBytes

// rawBuffer is the append-only decoded PTY stream for one session, plus
// the line-oriented scroll state the presentation boundary reads.
// ScrollOffset is the number of lines from the bottom; 0 means at bottom.
// Length is monotonically non-decreasing between scrollback trims; all
// capture offsets index the current text directly.
type rawBuffer struct {
	data         []byte
	scrollOffset int
	maxBytes     int
}

// newRawBuffer returns a buffer with default limits applied.
func newRawBuffer() *rawBuffer {
	return &rawBuffer{maxBytes: defaultMaxBytes}
}

func newRawBufferWithMaxBytes(maxBytes int) *rawBuffer {
	buf := newRawBuffer()
	if maxBytes > 0 {
		buf.maxBytes = maxBytes
	}
	return buf
}

// Append adds decoded text to the buffer and reports how many bytes were
// trimmed from the front to honor the scrollback limit. Capture offsets
// index the buffer absolutely, so a caller holding one must shift it by
// the returned count. If the buffer is scrolled up, the scroll offset is
// increased to keep the view anchored; trimming cuts at a line boundary.
func (b *rawBuffer) Append(text string) int {
	if text == "" {
		return 0
	}
	if b.scrollOffset > 0 {
		b.scrollOffset += strings.Count(text, "\n")
	}
	b.data = append(b.data, text...)
	maxBytes := b.maxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	trimmed := 0
	if len(b.data) > maxBytes {
		cut := len(b.data) - maxBytes
		if nl := bytes.IndexByte(b.data[cut:], '\n'); nl >= 0 {
			cut += nl + 1
		}
		b.data = b.data[cut:]
		trimmed = cut
		total := b.lineCount()
		if b.scrollOffset > total {
			b.scrollOffset = total
		}
	}
	return trimmed
}

// Len returns the current text length.
func (b *rawBuffer) Len() int {
	return len(b.data)
}

// String returns the full buffer text.
func (b *rawBuffer) String() string {
	return string(b.data)
}

// Suffix returns the text from offset to the end. An offset outside the
// current bounds yields the empty string, never an error.
func (b *rawBuffer) Suffix(offset int) string {
	if offset < 0 || offset > len(b.data) {
		return ""
	}
	return string(b.data[offset:])
}

// Lines returns the buffer split into display lines.
func (b *rawBuffer) Lines() []string {
	return strings.Split(string(b.data), "\n")
}

// Tail returns up to n trailing lines.
func (b *rawBuffer) Tail(n int) []string {
	lines := b.Lines()
	if n <= 0 || n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}

func (b *rawBuffer) lineCount() int {
	return bytes.Count(b.data, []byte{'\n'}) + 1
}

// CursorRow returns the on-screen row of the cursor: the absolute row
// minus the scroll offset.
func (b *rawBuffer) CursorRow() int {
	row := b.lineCount() - 1 - b.scrollOffset
	if row < 0 {
		row = 0
	}
	return row
}

// ResetScroll returns the view to the bottom.
func (b *rawBuffer) ResetScroll() {
	b.scrollOffset = 0
}

// Scroll adjusts the scroll offset by delta. Positive delta scrolls up
// (older lines), negative delta scrolls down. Limit is the viewport height.
func (b *rawBuffer) Scroll(delta, limit int) {
	b.scrollOffset = clampScroll(b.scrollOffset+delta, b.lineCount(), limit)
}

// Snapshot returns a view of the buffer for the given viewport limit.
func (b *rawBuffer) Snapshot(limit int) schema.BufferSnapshot {
	lines := b.Lines()
	total := len(lines)
	if limit <= 0 || limit > total {
		limit = total
	}

	max := maxScroll(total, limit)
	if b.scrollOffset > max {
		b.scrollOffset = max
	}

	end := total - b.scrollOffset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	view := make([]string, end-start)
	copy(view, lines[start:end])

	return schema.BufferSnapshot{
		Lines:        view,
		TotalLines:   total,
		ScrollOffset: b.scrollOffset,
		AtBottom:     b.scrollOffset == 0,
	}
}

func maxScroll(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	if total <= limit {
		return 0
	}
	return total - limit
}

func clampScroll(offset, total, limit int) int {
	max := maxScroll(total, limit)
	if offset < 0 {
		return 0
	}
	if offset > max {
		return max
	}
	return offset
}
