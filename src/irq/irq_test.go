package irq

import (
	"testing"

	"kerrors"
)

func TestCallbackLifetimeS4(t *testing.T) {
	line, errt := Alloc()
	if errt != kerrors.OK {
		t.Fatalf("Alloc: %v", errt)
	}
	var fired1, fired2 int
	h1 := line.OnActive(func(TrapFrame) { fired1++ })
	h2 := line.OnActive(func(TrapFrame) { fired2++ })

	Dispatch(line.Num(), TrapFrame{Num: line.Num()})
	if fired1 != 1 || fired2 != 1 {
		t.Fatalf("both callbacks should fire once: fired1=%d fired2=%d", fired1, fired2)
	}

	h1.Drop()
	Dispatch(line.Num(), TrapFrame{Num: line.Num()})
	if fired1 != 1 || fired2 != 2 {
		t.Fatalf("only the surviving callback should fire: fired1=%d fired2=%d", fired1, fired2)
	}

	num := line.Num()
	line.Drop()
	h2.Drop()

	if _, errt := AllocSpecific(num); errt != kerrors.OK {
		t.Fatalf("AllocSpecific(%d) after drop: %v", num, errt)
	}
}

func TestCallbacksFireInOrder(t *testing.T) {
	line, _ := Alloc()
	defer line.Drop()
	var order []int
	h1 := line.OnActive(func(TrapFrame) { order = append(order, 1) })
	defer h1.Drop()
	h2 := line.OnActive(func(TrapFrame) { order = append(order, 2) })
	defer h2.Drop()
	h3 := line.OnActive(func(TrapFrame) { order = append(order, 3) })
	defer h3.Drop()

	Dispatch(line.Num(), TrapFrame{})
	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDispatchWithNoCallbackDoesNotPanic(t *testing.T) {
	line, _ := Alloc()
	defer line.Drop()
	Dispatch(line.Num(), TrapFrame{})
}

func TestAllocExhaustion(t *testing.T) {
	var got []Line
	for {
		l, errt := Alloc()
		if errt != kerrors.OK {
			break
		}
		got = append(got, l)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one successful Alloc before exhaustion")
	}
	for _, l := range got {
		l.Drop()
	}
}
