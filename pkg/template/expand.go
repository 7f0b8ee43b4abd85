// Package template expands {placeholder} tokens in user-supplied
// strings such as export paths.
package template

import (
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

var username = sync.OnceValue(func() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Username
})

var hostname = sync.OnceValue(func() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	short, _, _ := strings.Cut(h, ".")
	return short
})

// Expand replaces {name} tokens in text. Built-in names are date, time,
// datetime, iso8601, unix, user, hostname and arch; entries in vars
// override built-ins. Unrecognized tokens and unbalanced braces pass
// through unchanged.
func Expand(text string, vars map[string]string) string {
	if !strings.Contains(text, "{") {
		return text
	}

	now := time.Now()
	var b strings.Builder
	b.Grow(len(text))

	for {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			b.WriteString(text)
			return b.String()
		}
		rest := text[open+1:]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			b.WriteString(text)
			return b.String()
		}
		if inner := strings.IndexByte(rest, '{'); inner >= 0 && inner < end {
			// A nearer brace opens first; everything up to it is literal.
			b.WriteString(text[:open+1+inner])
			text = text[open+1+inner:]
			continue
		}

		b.WriteString(text[:open])
		if val, ok := resolve(rest[:end], now, vars); ok {
			b.WriteString(val)
		} else {
			b.WriteString(text[open : open+end+2])
		}
		text = rest[end+1:]
	}
}

func resolve(name string, now time.Time, vars map[string]string) (string, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	switch name {
	case "date":
		return now.Format("2006-01-02"), true
	case "time":
		return now.Format("15:04:05"), true
	case "datetime":
		return now.Format("2006-01-02 15:04:05"), true
	case "iso8601":
		return now.Format(time.RFC3339), true
	case "unix":
		return strconv.FormatInt(now.Unix(), 10), true
	case "user":
		return username(), true
	case "hostname":
		return hostname(), true
	case "arch":
		return runtime.GOARCH, true
	}
	return "", false
}

// ExpandPath expands an output path with the built-in placeholders.
func ExpandPath(path string) string {
	return Expand(path, nil)
}
