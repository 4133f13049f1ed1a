package schema

// Sentinel prefixes injected by shell-side instrumentation to carry
// out-of-band data through the PTY stream. Each occupies a full line.
const (
	// ExitCodeMarker precedes the command's exit status.
	ExitCodeMarker = "__TERMAI_RC__="
	// CwdMarker precedes the shell's working directory after the command.
	CwdMarker = "__TERMAI_CWD__="
)

// DirSequencePrefix opens the OSC 7 escape sequence a hooked shell emits
// before every prompt to report its working directory. The sequence is
// terminated by BEL or ST.
const DirSequencePrefix = "\x1b]7;file://"
