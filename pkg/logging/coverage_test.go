package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWith_ChainsAndOverwrites(t *testing.T) {
	l, buf := capture(LevelInfo)

	l.With(map[string]any{"env": "prod", "region": "eu"}).
		With(map[string]any{"region": "us"}).
		Info("deployed")

	rec := decode(t, buf.Bytes())
	assert.Equal(t, "prod", rec.Fields["env"])
	assert.Equal(t, "us", rec.Fields["region"], "later With wins on collision")
}

func TestWith_EmptyMapStaysFieldless(t *testing.T) {
	l, buf := capture(LevelInfo)

	l.With(map[string]any{}).Info("nothing attached")

	assert.NotContains(t, buf.String(), `"fields"`)
}

func TestErrorErr_ExplicitErrorFieldWins(t *testing.T) {
	l, buf := capture(LevelError)

	l.ErrorErr("rollback failed", errors.New("raw"),
		map[string]any{"error": "wrapped: raw"})

	rec := decode(t, buf.Bytes())
	assert.Equal(t, "wrapped: raw", rec.Fields["error"])
}

func TestEmit_MergesCallFieldsOverBase(t *testing.T) {
	l, buf := capture(LevelInfo)
	scoped := l.With(map[string]any{"component": "http", "attempt": 1})

	scoped.Info("retrying", map[string]any{"attempt": 2})

	rec := decode(t, buf.Bytes())
	assert.Equal(t, "http", rec.Fields["component"])
	assert.Equal(t, float64(2), rec.Fields["attempt"])
}

func TestEmit_NoFieldsOmitsKey(t *testing.T) {
	l, buf := capture(LevelInfo)

	l.Info("bare")

	assert.NotContains(t, buf.String(), `"fields"`)
	rec := decode(t, buf.Bytes())
	assert.Nil(t, rec.Fields)
}

func TestEmit_UnserializableFieldFallsBack(t *testing.T) {
	l, buf := capture(LevelInfo)

	l.Info("bad payload", map[string]any{"ch": make(chan int)})

	assert.Contains(t, buf.String(), "log record not serializable")
}

func TestSetLevel_TakesEffectMidStream(t *testing.T) {
	l, buf := capture(LevelError)

	l.Debug("before")
	l.SetLevel(LevelDebug)
	l.Debug("after")

	out := buf.String()
	assert.NotContains(t, out, "before")
	assert.Contains(t, out, "after")
}

func TestSetOutput_RedirectsMidStream(t *testing.T) {
	var first, second bytes.Buffer
	l := NewLogger(LevelInfo)
	l.SetOutput(&first)

	l.Info("one")
	l.SetOutput(&second)
	l.Info("two")

	assert.Contains(t, first.String(), "one")
	assert.NotContains(t, first.String(), "two")
	assert.Contains(t, second.String(), "two")
}

func TestZeroValueLoggerIsSilent(t *testing.T) {
	var l Logger

	assert.NotPanics(t, func() {
		l.Info("dropped")
		l.ErrorErr("also dropped", errors.New("x"))
	})
}

func TestConcurrentEmit(t *testing.T) {
	l, buf := capture(LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.Info("tick", map[string]any{"n": n})
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "interleaved write: %q", line)
	}
}
