// Package color renders the CLI's verdict and status strings in ANSI color.
// Output stays plain when NO_COLOR is set (https://no-color.org/), when the
// terminal is dumb, or when --no-color asked for it.
package color

import (
	"os"
	"sync"
	"sync/atomic"
)

var state struct {
	once       sync.Once
	enabled    atomic.Bool
	overridden atomic.Bool
}

// Init decides color support once from the environment and the CLI flag.
// Later calls are no-ops, as is auto-detection after an explicit
// Enable/Disable.
func Init(noColor bool) {
	state.once.Do(func() {
		if state.overridden.Load() {
			return
		}
		if _, set := os.LookupEnv("NO_COLOR"); set {
			return
		}
		if os.Getenv("TERM") == "dumb" {
			return
		}
		if noColor {
			return
		}
		state.enabled.Store(true)
	})
}

// Enabled reports whether output should carry ANSI codes.
func Enabled() bool {
	Init(false)
	return state.enabled.Load()
}

// Enable forces colors on regardless of the environment.
func Enable() {
	state.overridden.Store(true)
	state.enabled.Store(true)
}

// Disable forces colors off.
func Disable() {
	state.overridden.Store(true)
	state.enabled.Store(false)
}

// ANSI escape codes used by the formatters.
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

func paint(code, s string) string {
	if !Enabled() {
		return s
	}
	return code + s + Reset
}

// Success renders an accepting verdict.
func Success(s string) string { return paint(Green, s) }

// Error renders a rejecting or failing verdict.
func Error(s string) string { return paint(Red, s) }

// Warning renders a degraded-but-not-failed status.
func Warning(s string) string { return paint(Yellow, s) }

// DeploymentID renders a deployment id so it stands out in session lists.
func DeploymentID(s string) string { return paint(Cyan, s) }
