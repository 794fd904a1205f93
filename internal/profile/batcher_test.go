package profile

import (
	"sort"
	"sync"
	"testing"
	"time"
)

// collectingFn records every batch it executes.
type collectingFn struct {
	mu      sync.Mutex
	batches [][]string
	values  map[string]int
}

func (c *collectingFn) fetch(keys []string) map[string]int {
	c.mu.Lock()
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	c.batches = append(c.batches, sorted)
	c.mu.Unlock()

	out := make(map[string]int, len(keys))
	for _, k := range keys {
		if v, ok := c.values[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (c *collectingFn) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func TestBatcherFlushesAtMaxBatch(t *testing.T) {
	fn := &collectingFn{values: map[string]int{"a": 1, "b": 2, "c": 3}}
	// Window long enough to never fire: only the size trigger flushes.
	b := NewBatcher("test", fn.fetch, time.Hour, 3)

	var wg sync.WaitGroup
	results := make([]map[string]int, 3)
	for i, keys := range [][]string{{"a"}, {"b"}, {"c"}} {
		wg.Add(1)
		go func(i int, keys []string) {
			defer wg.Done()
			results[i] = b.GetMultiple(keys)
		}(i, keys)
	}
	wg.Wait()

	if fn.calls() != 1 {
		t.Fatalf("batch executed %d times, want 1", fn.calls())
	}
	if got := fn.batches[0]; len(got) != 3 {
		t.Fatalf("batch keys = %v, want all three merged", got)
	}
	for i, want := range []int{1, 2, 3} {
		key := []string{"a", "b", "c"}[i]
		if results[i][key] != want {
			t.Errorf("waiter %d got %v", i, results[i])
		}
	}
}

func TestBatcherWindowFires(t *testing.T) {
	fn := &collectingFn{values: map[string]int{"a": 1, "b": 2}}
	b := NewBatcher("test", fn.fetch, 10*time.Millisecond, 0)

	got := b.GetMultiple([]string{"a", "b"})
	if got["a"] != 1 || got["b"] != 2 {
		t.Fatalf("got %v", got)
	}
	if fn.calls() != 1 {
		t.Fatalf("batch executed %d times, want 1", fn.calls())
	}
}

func TestBatcherWaitersGetOnlyTheirKeys(t *testing.T) {
	fn := &collectingFn{values: map[string]int{"a": 1, "b": 2}}
	b := NewBatcher("test", fn.fetch, time.Hour, 2)

	var wg sync.WaitGroup
	var gotA, gotB map[string]int
	wg.Add(2)
	go func() { defer wg.Done(); gotA = b.GetMultiple([]string{"a"}) }()
	go func() { defer wg.Done(); gotB = b.GetMultiple([]string{"b"}) }()
	wg.Wait()

	if len(gotA) != 1 || gotA["a"] != 1 {
		t.Errorf("waiter a got %v", gotA)
	}
	if len(gotB) != 1 || gotB["b"] != 2 {
		t.Errorf("waiter b got %v", gotB)
	}
}

func TestBatcherUnresolvedKeyReportsMiss(t *testing.T) {
	fn := &collectingFn{values: map[string]int{}}
	b := NewBatcher("test", fn.fetch, time.Hour, 1)

	v, ok := b.Get("ghost")
	if ok || v != 0 {
		t.Fatalf("got (%v, %v), want miss", v, ok)
	}
}

func TestBatcherEmptyRequest(t *testing.T) {
	fn := &collectingFn{}
	b := NewBatcher("test", fn.fetch, time.Hour, 1)

	if got := b.GetMultiple(nil); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
	if fn.calls() != 0 {
		t.Fatalf("empty request executed a batch")
	}
}
