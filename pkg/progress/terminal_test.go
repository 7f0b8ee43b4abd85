package progress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTerminal(total int) (*Terminal, *bytes.Buffer) {
	var buf bytes.Buffer
	term := NewTerminal("watch", total, true)
	term.w = &buf
	return term, &buf
}

func TestTerminalDrawsBarAndCount(t *testing.T) {
	term, buf := testTerminal(100)

	term.Callback()("watch", 50, 100, "halfway")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\r"), "redraw should return to line start")
	assert.Contains(t, out, "watch [")
	assert.Contains(t, out, "50/100s")
	assert.Contains(t, out, "halfway")

	fill := strings.Count(out, "=")
	assert.Equal(t, barWidth/2, fill, "half the window elapsed fills half the bar")
}

func TestTerminalOverwritesShorterLines(t *testing.T) {
	term, buf := testTerminal(10)
	cb := term.Callback()

	cb("watch", 1, 10, "a much longer status message")
	first := buf.Len()
	buf.Reset()

	cb("watch", 2, 10, "")

	// The second draw pads to the first line's width so stale text
	// never shows through.
	assert.GreaterOrEqual(t, buf.Len(), first)
}

func TestTerminalClampsOvershoot(t *testing.T) {
	term, buf := testTerminal(10)

	term.Callback()("watch", 25, 10, "")

	out := buf.String()
	assert.Contains(t, out, "10/10s")
	assert.Equal(t, barWidth, strings.Count(out, "="))
}

func TestTerminalDoneFillsAndEndsLine(t *testing.T) {
	term, buf := testTerminal(5)

	term.Callback()("watch", 2, 5, "")
	term.Done("window elapsed")

	out := buf.String()
	assert.Contains(t, out, "5/5s")
	assert.Contains(t, out, "window elapsed")
	require.True(t, strings.HasSuffix(out, "\n"), "Done must release the line")
}

func TestTerminalDisabledDrawsNothing(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal("watch", 10, false)
	term.w = &buf

	term.Callback()("watch", 5, 10, "hidden")
	term.Done("")

	assert.Zero(t, buf.Len())
}

func TestTerminalSetEnabledStopsRendering(t *testing.T) {
	term, buf := testTerminal(10)
	cb := term.Callback()

	cb("watch", 1, 10, "")
	require.NotZero(t, buf.Len())

	term.SetEnabled(false)
	buf.Reset()

	cb("watch", 2, 10, "")
	assert.Zero(t, buf.Len())
}

func TestTerminalZeroTotalDoesNotPanic(t *testing.T) {
	term, buf := testTerminal(0)

	term.Callback()("watch", 0, 0, "")

	assert.Contains(t, buf.String(), "watch [")
}
