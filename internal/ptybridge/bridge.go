// Package ptybridge attaches terminal sessions to a local shell running
// under a pseudo-terminal.
package ptybridge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
	"pkt.systems/pslog"
	"pkt.systems/termai/core"
	"pkt.systems/termai/schema"
)

// readBufSize is the PTY read chunk size.
const readBufSize = 32 * 1024

// writeChunkSize bounds single PTY writes so large pastes do not
// overflow the kernel input queue.
const writeChunkSize = 1024

// defaultCloseTimeout is how long Close waits after SIGTERM before
// escalating to SIGKILL.
const defaultCloseTimeout = 5 * time.Second

// promptHook makes the shell announce directory changes through the
// OSC 7 sequence before each prompt.
const promptHook = `printf '\033]7;file://%s%s\007' "$(hostname 2>/dev/null)" "$PWD"`

// Config controls how shells are spawned.
type Config struct {
	Shell        string
	Term         string
	Cols         int
	Rows         int
	WorkDir      string
	CloseTimeout time.Duration
	Logger       pslog.Logger
}

// Provider spawns one shell per session.
type Provider struct {
	cfg Config
}

// NewProvider returns a BridgeProvider backed by local PTYs.
func NewProvider(cfg Config) *Provider {
	if cfg.Shell == "" {
		cfg.Shell = os.Getenv("SHELL")
	}
	if cfg.Shell == "" {
		cfg.Shell = "/bin/bash"
	}
	if cfg.Term == "" {
		cfg.Term = "xterm-256color"
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 120
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 32
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.Ctx(context.Background())
	}
	return &Provider{cfg: cfg}
}

// Bridge spawns a shell sized per the request and wires its PTY stream.
func (p *Provider) Bridge(_ context.Context, req core.BridgeRequest) (core.TerminalBridge, error) {
	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = p.cfg.Cols
	}
	if rows <= 0 {
		rows = p.cfg.Rows
	}

	cmd := exec.Command(p.cfg.Shell)
	cmd.Dir = p.cfg.WorkDir
	cmd.Env = append(os.Environ(),
		"TERM="+p.cfg.Term,
		"PROMPT_COMMAND="+promptHook,
	)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("spawn shell %s: %w", p.cfg.Shell, err)
	}

	b := &bridge{
		cmd:          cmd,
		ptmx:         ptmx,
		events:       make(chan schema.StreamEvent, 256),
		sessionID:    req.SessionID,
		closeTimeout: p.cfg.CloseTimeout,
		log:          p.cfg.Logger.With("session", req.SessionID),
	}
	go b.readLoop()
	b.log.Debug("shell spawned", "shell", p.cfg.Shell, "cols", cols, "rows", rows)
	return b, nil
}

// bridge connects one spawned shell to a session. The read loop owns the
// events channel and closes it when the PTY reaches EOF.
type bridge struct {
	cmd          *exec.Cmd
	ptmx         *os.File
	events       chan schema.StreamEvent
	sessionID    schema.SessionID
	closeTimeout time.Duration
	log          pslog.Logger

	mu     sync.Mutex
	closed bool
}

func (b *bridge) Events() <-chan schema.StreamEvent {
	return b.events
}

// readLoop decodes the PTY stream into events. Reads are cut at UTF-8
// boundaries; a trailing incomplete rune is carried into the next read.
func (b *bridge) readLoop() {
	defer close(b.events)
	defer func() { _ = b.cmd.Wait() }()
	buf := make([]byte, readBufSize)
	var carry []byte
	for {
		n, err := b.ptmx.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			cut := completeUTF8(data)
			carry = append([]byte(nil), data[cut:]...)
			if cut > 0 {
				b.events <- schema.StreamEvent{
					SessionID: b.sessionID,
					Text:      string(data[:cut]),
				}
			}
		}
		if err != nil {
			if len(carry) > 0 {
				b.events <- schema.StreamEvent{SessionID: b.sessionID, Text: string(carry)}
			}
			return
		}
	}
}

// completeUTF8 returns the length of the longest prefix that does not
// end in a partial rune. Invalid bytes that cannot become valid with
// more input pass through whole.
func completeUTF8(data []byte) int {
	n := len(data)
	for i := 1; i <= utf8.UTFMax && i <= n; i++ {
		c := data[n-i]
		if c < utf8.RuneSelf {
			return n
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(data[n-i:]) {
				return n
			}
			return n - i
		}
	}
	return n
}

// Send writes text to the shell's input in bounded chunks.
func (b *bridge) Send(ctx context.Context, text string) error {
	data := []byte(text)
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := len(data)
		if n > writeChunkSize {
			n = writeChunkSize
		}
		written, err := b.ptmx.Write(data[:n])
		if err != nil {
			return fmt.Errorf("pty write: %w", err)
		}
		data = data[written:]
	}
	return nil
}

func (b *bridge) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return schema.ErrInvalidRequest
	}
	return pty.Setsize(b.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Close terminates the shell: SIGTERM first, SIGKILL after the timeout.
func (b *bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.cmd.Process != nil {
		_ = b.cmd.Process.Signal(syscall.SIGTERM)
		exited := make(chan struct{})
		go func() {
			defer close(exited)
			for {
				if err := b.cmd.Process.Signal(syscall.Signal(0)); err != nil {
					return
				}
				time.Sleep(50 * time.Millisecond)
			}
		}()
		select {
		case <-exited:
		case <-time.After(b.closeTimeout):
			b.log.Warn("shell ignored SIGTERM, killing")
			_ = b.cmd.Process.Kill()
		}
	}
	return b.ptmx.Close()
}
