package percpu

import "testing"

func TestStaticCopyIsolationS5(t *testing.T) {
	slot := NewStatic(0)
	// Pretend 4 CPUs; bypass the global registry to keep this test
	// hermetic from others registering their own Declare()d slots.
	slot.ensureCapacity(4)
	for cpu := CPU(1); cpu < 4; cpu++ {
		if err := slot.copyFromBSP(cpu); err != nil {
			t.Fatalf("copyFromBSP(%d): %v", cpu, err)
		}
	}

	bsp := DisableLocalIrq(0)
	*slot.GetWith(bsp) = 7

	for cpu := CPU(1); cpu < 4; cpu++ {
		g := DisableLocalIrq(cpu)
		if got := *slot.GetWith(g); got == 7 {
			t.Fatalf("CPU %d observed BSP's post-copy write; isolation violated", cpu)
		}
	}
}

func TestCopyBSPForAPDetectsDoubleCopy(t *testing.T) {
	registryMu.Lock()
	registry = nil
	registryMu.Unlock()

	slot := Declare(1)
	if err := CopyBSPForAP(3); err != nil {
		t.Fatalf("first CopyBSPForAP: %v", err)
	}
	if err := CopyBSPForAP(3); err == nil {
		t.Fatal("expected second CopyBSPForAP over the same slots to fail")
	}
	_ = slot
}

func TestGetWithBeforeCopyPanics(t *testing.T) {
	slot := NewStatic(0)
	slot.ensureCapacity(2)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic reading an unpopulated AP slot")
		}
	}()
	slot.GetWith(DisableLocalIrq(1))
}

func TestDynamicSlotBoundedByReslimit(t *testing.T) {
	d, ok := NewDynamic[int](2)
	if !ok {
		t.Fatal("expected NewDynamic to succeed")
	}
	*d.GetOnCPU(0) = 5
	if *d.GetOnCPU(0) != 5 {
		t.Fatal("dynamic slot did not retain write")
	}
	d.Release()
}
