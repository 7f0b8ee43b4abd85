package progress

import (
	"fmt"
	"sync"
	"testing"
)

type tick struct {
	op      string
	current int
	total   int
	message string
}

func record(sink *[]tick) Callback {
	return func(op string, current, total int, message string) {
		*sink = append(*sink, tick{op, current, total, message})
	}
}

func TestNilCallbackDefaultsToNoop(t *testing.T) {
	p := New("watch", 5, nil)
	p.Increment("tick")
	p.Done("")
	if got := p.Current(); got != 5 {
		t.Fatalf("Current() = %d, want 5", got)
	}
}

func TestIncrementForwardsEachTick(t *testing.T) {
	var got []tick
	p := New("watch", 3, record(&got))

	p.Increment("a")
	p.Increment("b")

	want := []tick{
		{"watch", 1, 3, "a"},
		{"watch", 2, 3, "b"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d ticks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tick %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSetJumpsToAbsolutePosition(t *testing.T) {
	var got []tick
	p := New("watch", 10, record(&got))

	p.Set(7, "skip ahead")

	if p.Current() != 7 {
		t.Fatalf("Current() = %d, want 7", p.Current())
	}
	if len(got) != 1 || got[0].current != 7 || got[0].message != "skip ahead" {
		t.Fatalf("ticks = %+v", got)
	}
}

func TestDoneReportsTotal(t *testing.T) {
	var got []tick
	p := New("watch", 4, record(&got))

	p.Increment("")
	p.Done("finished")

	last := got[len(got)-1]
	if last.current != 4 || last.message != "finished" {
		t.Fatalf("final tick = %+v", last)
	}
	if p.Current() != 4 {
		t.Fatalf("Current() = %d, want 4", p.Current())
	}
}

func TestConcurrentIncrements(t *testing.T) {
	const workers = 8
	const each = 50

	p := New("watch", workers*each, Noop)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				p.Increment(fmt.Sprintf("w%d", j))
			}
		}()
	}
	wg.Wait()

	if got := p.Current(); got != workers*each {
		t.Fatalf("Current() = %d, want %d", got, workers*each)
	}
}
