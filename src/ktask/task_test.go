package ktask

import (
	"sync"
	"testing"

	"kerrors"

	"frame"
)

var arenaOnce sync.Once

// setupArena initializes the package-wide frame table at most once per test
// binary: frame.Init is a write-once global by design, so every test in
// this package shares one arena rather than each trying to re-initialize
// it.
func setupArena(t *testing.T) {
	t.Helper()
	arenaOnce.Do(func() {
		if err := frame.Init(64*1024*1024, 8*1024*1024); err != nil {
			t.Fatalf("frame.Init: %v", err)
		}
	})
}

func TestBuildAndExit(t *testing.T) {
	setupArena(t)
	ran := false
	tk, errt := NewTaskOptions(func(data any) {
		ran = true
		if data.(int) != 42 {
			t.Errorf("entry got data %v, want 42", data)
		}
	}).Data(42).StackPages(4).Build()
	if errt != kerrors.OK {
		t.Fatalf("Build: %v", errt)
	}
	tk.Run()
	if !ran {
		t.Fatal("entry never ran")
	}
	if !tk.Exited() {
		t.Fatal("task should be marked exited after Run")
	}
}

func TestExitIsIdempotent(t *testing.T) {
	setupArena(t)
	tk, errt := NewTaskOptions(func(any) {}).StackPages(4).Build()
	if errt != kerrors.OK {
		t.Fatalf("Build: %v", errt)
	}
	tk.Exit()
	tk.Exit() // must not double-free the stack
}

func TestAtomicCpuIdTransitions(t *testing.T) {
	c := NewAtomicCpuId()
	if _, ok := c.Get(); ok {
		t.Fatal("new AtomicCpuId should be none")
	}
	if !c.CompareExchangeNoneTo(3) {
		t.Fatal("none -> 3 should succeed")
	}
	if c.CompareExchangeNoneTo(5) {
		t.Fatal("3 -> 5 via CompareExchangeNoneTo should fail, cell is not none")
	}
	c.SetNone()
	if _, ok := c.Get(); ok {
		t.Fatal("SetNone should clear the cell")
	}
}

func TestCpuSetEmptyMatchesAll(t *testing.T) {
	var s CpuSet
	if !s.Contains(7) {
		t.Fatal("empty CpuSet should match every CPU")
	}
	s = s.Add(2)
	if s.Contains(7) {
		t.Fatal("restricted CpuSet should not match an unlisted CPU")
	}
	if !s.Contains(2) {
		t.Fatal("restricted CpuSet should match its listed CPU")
	}
}

func TestFifoSchedulerOrder(t *testing.T) {
	setupArena(t)
	sched := NewFifoScheduler()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		_, errt := NewTaskOptions(func(any) { order = append(order, i) }).StackPages(4).Spawn(sched)
		if errt != kerrors.OK {
			t.Fatalf("Spawn: %v", errt)
		}
	}
	for sched.RunNext() {
	}
	want := []int{0, 1, 2}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
