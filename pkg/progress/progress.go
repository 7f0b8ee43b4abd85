// Package progress renders a single-line countdown while a foreground
// monitoring session waits out its window.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Callback receives one update per tick of a tracked operation.
type Callback func(op string, current, total int, message string)

// Noop discards updates.
func Noop(op string, current, total int, message string) {}

// Progress counts ticks toward a known total and forwards every change to
// a callback.
type Progress struct {
	Op    string
	Total int

	mu      sync.Mutex
	current int
	cb      Callback
}

// New returns a tracker for total ticks. A nil callback means Noop.
func New(op string, total int, cb Callback) *Progress {
	if cb == nil {
		cb = Noop
	}
	return &Progress{Op: op, Total: total, cb: cb}
}

// Increment advances by one tick.
func (p *Progress) Increment(message string) {
	p.mu.Lock()
	p.current++
	cur := p.current
	p.mu.Unlock()
	p.cb(p.Op, cur, p.Total, message)
}

// Set jumps to an absolute tick count.
func (p *Progress) Set(current int, message string) {
	p.mu.Lock()
	p.current = current
	p.mu.Unlock()
	p.cb(p.Op, current, p.Total, message)
}

// Done jumps to the total.
func (p *Progress) Done(message string) {
	p.Set(p.Total, message)
}

// Current returns the tick count so far.
func (p *Progress) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

const barWidth = 30

// Terminal draws tracked progress as a bar on one terminal line,
// overwriting itself on each update.
type Terminal struct {
	op    string
	total int

	mu       sync.Mutex
	w        io.Writer
	enabled  bool
	lastLine int
}

// NewTerminal returns a bar writing to stderr. A disabled bar draws
// nothing, which keeps the render decision in one place for callers.
func NewTerminal(op string, total int, enabled bool) *Terminal {
	return &Terminal{op: op, total: total, w: os.Stderr, enabled: enabled}
}

// Callback adapts the bar to the Progress callback shape.
func (t *Terminal) Callback() Callback {
	return func(_ string, current, _ int, message string) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !t.enabled {
			return
		}
		t.draw(current, message)
	}
}

// Done redraws the bar full and moves to the next line.
func (t *Terminal) Done(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.draw(t.total, message)
	fmt.Fprintln(t.w)
}

// SetEnabled switches rendering on or off.
func (t *Terminal) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// draw runs with the mutex held. Overwrites by padding to the previous
// line length, so no separate clear write is needed.
func (t *Terminal) draw(current int, message string) {
	total := t.total
	if total < 1 {
		total = 1
	}
	if current > total {
		current = total
	}
	filled := barWidth * current / total

	line := fmt.Sprintf("%s [%s%s] %d/%ds", t.op,
		strings.Repeat("=", filled), strings.Repeat(" ", barWidth-filled),
		current, total)
	if message != "" {
		line += "  " + message
	}
	if pad := t.lastLine - len(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	}

	fmt.Fprint(t.w, "\r"+line)
	t.lastLine = len(line)
}
