// Package percpu implements per-CPU local storage: statically-declared
// slots that start out holding the bootstrap processor's value and are
// fanned out to application processors once at boot, plus dynamically
// registered slots for callers that don't know their object set until
// runtime.
package percpu

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"reslimit"
)

// CPU identifies a logical CPU by index. CPU 0 is always the bootstrap
// processor (BSP).
type CPU int

// IrqGuard stands in for the original's DisabledLocalIrqGuard: proof that
// local interrupts are disabled on the CPU it was obtained for, and
// therefore that this CPU cannot migrate the calling goroutine out from
// under a local-view access. A hosted build cannot actually disable
// hardware interrupts, so the guard instead just records which CPU the
// caller is declaring itself bound to.
type IrqGuard struct {
	cpu CPU
}

// DisableLocalIrq returns a guard asserting the caller is executing on cpu
// with interrupts disabled. A real architecture port backs this by masking
// the local APIC/PIC; here it is the caller's declaration.
func DisableLocalIrq(cpu CPU) IrqGuard { return IrqGuard{cpu: cpu} }

// CPU returns the CPU this guard was obtained for.
func (g IrqGuard) CPU() CPU { return g.cpu }

// Enable is a no-op placeholder for the point at which a real architecture
// port would restore the interrupt flag.
func (g IrqGuard) Enable() {}

// Static is a statically-declared CPU-local slot of type T. The zero value
// is not usable; construct with NewStatic, which seeds CPU 0's slot with an
// initial value the way the original's `.cpu_local` section holds the
// BSP's const-initialized copy before CopyBSPForAP runs.
type Static[T any] struct {
	mu     sync.RWMutex
	slots  []T
	isUsed []bool
}

// NewStatic declares a static per-CPU slot seeded with initial on CPU 0.
// Slots for CPUs 1..n-1 do not exist until CopyBSPForAP runs.
func NewStatic[T any](initial T) *Static[T] {
	s := &Static[T]{slots: []T{initial}, isUsed: []bool{true}}
	return s
}

// GetWith returns a pointer to the slot on the CPU the guard was obtained
// for. It panics if the slot was never populated, i.e. an AP slot read
// before CopyBSPForAP ran (CPU 0's slot is populated by NewStatic) — the
// race spec.md requires detecting.
func (s *Static[T]) GetWith(g IrqGuard) *T {
	return s.getOnLocked(g.cpu, true)
}

// GetOnCPU returns a pointer to the remote view of the slot on the given
// CPU: a shared read-only view available without holding any guard for that
// CPU, per the spec's per-CPU storage sharing policy.
func (s *Static[T]) GetOnCPU(cpu CPU) *T {
	return s.getOnLocked(cpu, false)
}

func (s *Static[T]) getOnLocked(cpu CPU, requireUsed bool) *T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(cpu) >= len(s.slots) {
		panic(fmt.Sprintf("percpu: CPU %d has no slot; CopyBSPForAP was never run for it", cpu))
	}
	if requireUsed && !s.isUsed[cpu] {
		panic(fmt.Sprintf("percpu: read of CPU %d's slot before it was populated", cpu))
	}
	return &s.slots[cpu]
}

// ensureCapacity grows the slot/isUsed slices to hold n CPUs, copying
// nothing: new slots are zero-valued until CopyBSPForAP populates them.
func (s *Static[T]) ensureCapacity(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.slots) < n {
		var zero T
		s.slots = append(s.slots, zero)
		s.isUsed = append(s.isUsed, false)
	}
}

func (s *Static[T]) copyFromBSP(cpu CPU) error {
	s.mu.Lock()
	if s.isUsed[cpu] {
		s.mu.Unlock()
		return fmt.Errorf("percpu: CPU %d's slot already populated before copy (debug sentinel tripped)", cpu)
	}
	s.slots[cpu] = s.slots[0]
	s.isUsed[cpu] = true
	s.mu.Unlock()
	return nil
}

// registry collects every Static slot created through Declare so
// CopyBSPForAP can fan the BSP's values out to every declared slot at once,
// mirroring the linker-section iteration the original performs over
// `.cpu_local`.
type copier interface {
	ensureCap(n int)
	copyBSP(cpu CPU) error
}

func (s *Static[T]) ensureCap(n int)      { s.ensureCapacity(n) }
func (s *Static[T]) copyBSP(cpu CPU) error { return s.copyFromBSP(cpu) }

var (
	registryMu sync.Mutex
	registry   []copier
)

func register(c copier) {
	registryMu.Lock()
	registry = append(registry, c)
	registryMu.Unlock()
}

// CopyBSPForAP brings up n-1 application processors (CPUs 1..n-1): every
// Static slot declared so far gets its BSP (CPU 0) value copied into each
// AP's slot, concurrently, failing the whole operation if any slot's debug
// sentinel shows it was already populated — the exact violation spec.md
// mandates detecting.
func CopyBSPForAP(n int) error {
	registryMu.Lock()
	slots := append([]copier(nil), registry...)
	registryMu.Unlock()

	for _, c := range slots {
		c.ensureCap(n)
	}

	var g errgroup.Group
	for cpu := 1; cpu < n; cpu++ {
		cpu := CPU(cpu)
		g.Go(func() error {
			for _, c := range slots {
				if err := c.copyBSP(cpu); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Declare creates and registers a new static per-CPU slot. Use this instead
// of NewStatic directly so CopyBSPForAP can find it.
func Declare[T any](initial T) *Static[T] {
	s := NewStatic(initial)
	register(s)
	return s
}

// Dynamic is a per-CPU slot allocated at runtime rather than declared
// statically, bounded by reslimit.Syslimit.PerCpuDynamicSlots.
type Dynamic[T any] struct {
	mu    sync.RWMutex
	slots map[CPU]*T
}

// NewDynamic allocates a dynamic per-CPU slot for up to numCPUs CPUs, each
// seeded with a fresh zero value.
func NewDynamic[T any](numCPUs int) (*Dynamic[T], bool) {
	if !reslimit.Syslimit.PerCpuDynamicSlots.Take() {
		return nil, false
	}
	d := &Dynamic[T]{slots: make(map[CPU]*T, numCPUs)}
	for i := 0; i < numCPUs; i++ {
		var zero T
		d.slots[CPU(i)] = &zero
	}
	return d, true
}

// GetWith returns the slot for the guard's CPU.
func (d *Dynamic[T]) GetWith(g IrqGuard) *T {
	return d.GetOnCPU(g.cpu)
}

// GetOnCPU returns the slot for the given CPU.
func (d *Dynamic[T]) GetOnCPU(cpu CPU) *T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.slots[cpu]
	if !ok {
		panic(fmt.Sprintf("percpu: dynamic slot has no entry for CPU %d", cpu))
	}
	return p
}

// Release returns the dynamic slot's reservation to reslimit.
func (d *Dynamic[T]) Release() {
	reslimit.Syslimit.PerCpuDynamicSlots.Give()
}
