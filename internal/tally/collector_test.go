package tally

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunFor_CountsUntilExhausted(t *testing.T) {
	src := SliceSource(Event(1), Event(7), Event(1), Event(3), Event(7), Event(1))

	snap, err := New().RunFor(time.Second, src)
	if err != nil {
		t.Fatalf("RunFor returned error: %v", err)
	}

	want := Snapshot{{Kind: 1, Count: 3}, {Kind: 3, Count: 1}, {Kind: 7, Count: 2}}
	if len(snap) != len(want) {
		t.Fatalf("snapshot = %v, want %v", snap, want)
	}
	for i := range want {
		if snap[i] != want[i] {
			t.Errorf("snapshot[%d] = %v, want %v", i, snap[i], want[i])
		}
	}
}

func TestRunFor_EmptySource(t *testing.T) {
	start := time.Now()
	snap, err := New().RunFor(time.Second, SliceSource())
	if err != nil {
		t.Fatalf("RunFor returned error: %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("snapshot = %v, want empty", snap)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("RunFor waited %v on an exhausted source", elapsed)
	}
}

func TestRunFor_SkipsNonEvents(t *testing.T) {
	src := SliceSource(Event(5), Other("notice"), Event(5))

	snap, err := New().RunFor(time.Second, src)
	if err != nil {
		t.Fatalf("RunFor returned error: %v", err)
	}
	if len(snap) != 1 || snap[0] != (Entry{Kind: 5, Count: 2}) {
		t.Errorf("snapshot = %v, want [{5 2}]", snap)
	}
}

func TestRunFor_TimeoutBoundary(t *testing.T) {
	const window = 150 * time.Millisecond

	// Never closes and never yields
	ch := make(chan Item)

	start := time.Now()
	snap, err := New().RunFor(window, ChanSource(ch))
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("RunFor returned error on timeout: %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("snapshot = %v, want empty", snap)
	}
	if elapsed < window {
		t.Errorf("RunFor returned after %v, before window %v", elapsed, window)
	}
	if elapsed > window+time.Second {
		t.Errorf("RunFor returned after %v, well past window %v", elapsed, window)
	}
}

func TestRunFor_KeepsCountsOnTimeout(t *testing.T) {
	ch := make(chan Item, 3)
	ch <- Event(1)
	ch <- Event(1)
	ch <- Event(2)

	snap, err := New().RunFor(100*time.Millisecond, ChanSource(ch))
	if err != nil {
		t.Fatalf("RunFor returned error: %v", err)
	}
	if snap.Get(1) != 2 || snap.Get(2) != 1 {
		t.Errorf("snapshot = %v, want 1:2 2:1", snap)
	}
}

func TestRunFor_FailurePassesThrough(t *testing.T) {
	boom := errors.New("relay gone")
	src := SliceSource(Event(1), Failure(boom), Event(2))

	snap, err := New().RunFor(time.Second, src)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if snap != nil {
		t.Errorf("snapshot = %v, want nil on failure", snap)
	}
}

func TestRunFor_RejectsConcurrentWindow(t *testing.T) {
	c := New()
	ch := make(chan Item)
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = c.RunFor(time.Minute, ChanSource(ch))
	}()

	// Wait for the first window to start
	deadline := time.Now().Add(time.Second)
	for !c.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first window never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := c.RunFor(time.Millisecond, SliceSource()); !errors.Is(err, ErrRunning) {
		t.Errorf("second RunFor err = %v, want ErrRunning", err)
	}

	close(ch)
	<-done
}

func TestRecord_ConcurrentProducers(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Record(42)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if got := snap.Get(42); got != 1000 {
		t.Errorf("count for 42 = %d, want 1000", got)
	}
	if c.Total() != 1000 {
		t.Errorf("Total() = %d, want 1000", c.Total())
	}
}

func TestRecord_InterleavedKinds(t *testing.T) {
	c := New()
	kinds := []uint64{0, 1, 3, 7, 30023, 1 << 40}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				c.Record(kinds[(w+i)%len(kinds)])
			}
		}(w)
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.Total() != 8*300 {
		t.Errorf("snapshot total = %d, want %d", snap.Total(), 8*300)
	}
	for _, k := range kinds {
		if snap.Get(k) != 400 {
			t.Errorf("count for %d = %d, want 400", k, snap.Get(k))
		}
	}
}

func TestSnapshot_AscendingAndIdempotent(t *testing.T) {
	c := New()
	for _, k := range []uint64{9, 2, 9, 100, 0, 2, 55} {
		c.Record(k)
	}

	first := c.Snapshot()
	second := c.Snapshot()

	if len(first) != len(second) {
		t.Fatalf("snapshots differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("snapshot[%d] differs: %v vs %v", i, first[i], second[i])
		}
		if i > 0 && first[i-1].Kind >= first[i].Kind {
			t.Errorf("snapshot not strictly ascending at %d: %v", i, first)
		}
	}
}

func TestMerge_ConcurrentProducers(t *testing.T) {
	produce := func() Source {
		ch := make(chan Item)
		go func() {
			defer close(ch)
			for i := 0; i < 500; i++ {
				ch <- Event(42)
			}
		}()
		return ChanSource(ch)
	}

	snap, err := New().RunFor(10*time.Second, Merge(produce(), produce()))
	if err != nil {
		t.Fatalf("RunFor returned error: %v", err)
	}
	if got := snap.Get(42); got != 1000 {
		t.Errorf("count for 42 = %d, want 1000", got)
	}
}

func TestSnapshot_WriteTo(t *testing.T) {
	snap := Snapshot{{Kind: 0, Count: 12}, {Kind: 1, Count: 3}, {Kind: 7, Count: 40}}

	var buf bytes.Buffer
	if _, err := snap.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	want := "0: 12\n1: 3\n7: 40\n"
	if buf.String() != want {
		t.Errorf("WriteTo output = %q, want %q", buf.String(), want)
	}
}
