package core

import (
	"net/url"
	"os"
	"strings"

	"pkt.systems/termai/schema"
)

// promptScanLines bounds the heuristic prompt scan to the trailing lines.
const promptScanLines = 5

// promptTokenRejectChars are characters a filesystem path token never
// contains; tokens holding any of them are echoed text, not paths.
const promptTokenRejectChars = "<>|\"'`*?\x1b\x00"

// cwdResolver combines three independent working-directory signals into
// one authoritative value: the command-scoped capture marker, the OSC 7
// sequence a hooked shell emits before every prompt, and a best-effort
// prompt scan. The new value is published only when it differs.
type cwdResolver struct {
	current string
	home    string
	isDir   func(path string) bool
}

func newCwdResolver(home string) *cwdResolver {
	return &cwdResolver{home: home, isDir: isExistingDir}
}

func isExistingDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Current returns the held working directory.
func (r *cwdResolver) Current() string {
	return r.current
}

// Resolve applies the highest-precedence signal available this cycle.
// marker is the capture marker value when present, "" otherwise; lines is
// a read view of the trailing buffer lines. Returns the held value plus
// whether it changed.
func (r *cwdResolver) Resolve(marker string, lines []string) (string, bool) {
	next := marker
	if next == "" {
		next = scanDirSequence(lines)
	}
	if next == "" {
		next = r.scanPrompt(lines)
	}
	if next == "" || next == r.current {
		return r.current, false
	}
	r.current = next
	return next, true
}

// scanDirSequence walks lines in reverse for the OSC 7 directory-change
// sequence, URL-decodes the path, and discards a leading hostname.
func scanDirSequence(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if path := parseDirSequence(lines[i]); path != "" {
			return path
		}
	}
	return ""
}

func parseDirSequence(line string) string {
	idx := strings.LastIndex(line, schema.DirSequencePrefix)
	if idx < 0 {
		return ""
	}
	rest := line[idx+len(schema.DirSequencePrefix):]
	end := strings.IndexByte(rest, 0x07)
	if end < 0 {
		if end = strings.Index(rest, "\x1b\\"); end < 0 {
			return ""
		}
	}
	seq := rest[:end]
	slash := strings.IndexByte(seq, '/')
	if slash < 0 {
		return ""
	}
	decoded, err := url.PathUnescape(seq[slash:])
	if err != nil || decoded == "" {
		return ""
	}
	return decoded
}

// scanPrompt is the fallback heuristic: trailing non-empty lines are
// scanned in reverse for a token that looks like a path and names an
// existing directory. The filesystem check is best-effort and racy with
// respect to concurrent renames; a stale hit degrades to a no-op.
func (r *cwdResolver) scanPrompt(lines []string) string {
	scanned := 0
	for i := len(lines) - 1; i >= 0 && scanned < promptScanLines; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		scanned++
		for _, token := range strings.Fields(line) {
			path, ok := r.promptToken(token)
			if ok {
				return path
			}
		}
	}
	return ""
}

func (r *cwdResolver) promptToken(token string) (string, bool) {
	if len(token) < 2 {
		return "", false
	}
	if token[0] != '~' && token[0] != '/' {
		return "", false
	}
	if strings.Contains(token, "://") {
		return "", false
	}
	if strings.ContainsAny(token, promptTokenRejectChars) {
		return "", false
	}
	path := token
	if path[0] == '~' {
		if len(path) > 1 && path[1] != '/' {
			return "", false
		}
		path = r.home + path[1:]
	}
	if !r.isDir(path) {
		return "", false
	}
	return path, true
}
