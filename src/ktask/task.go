package ktask

import (
	"math"
	"sync/atomic"

	"kerrors"
	"reslimit"
)

// noneCPU is the sentinel AtomicCpuId holds when a task is not queued on any
// CPU, matching u32::MAX in the original.
const noneCPU uint32 = math.MaxUint32

// AtomicCpuId tracks which CPU a runnable task is queued on, or none.
type AtomicCpuId struct {
	v uint32
}

// NewAtomicCpuId returns a cell initialized to "none".
func NewAtomicCpuId() *AtomicCpuId {
	return &AtomicCpuId{v: noneCPU}
}

// Get returns the held CPU index and true, or (0, false) if none.
func (a *AtomicCpuId) Get() (uint32, bool) {
	v := atomic.LoadUint32(&a.v)
	return v, v != noneCPU
}

// CompareExchangeNoneTo transitions "none" to cpu, failing if the cell
// already holds some CPU index.
func (a *AtomicCpuId) CompareExchangeNoneTo(cpu uint32) bool {
	return atomic.CompareAndSwapUint32(&a.v, noneCPU, cpu)
}

// SetNone unconditionally clears the cell to "none".
func (a *AtomicCpuId) SetNone() {
	atomic.StoreUint32(&a.v, noneCPU)
}

// Priority is a task's scheduling priority; lower values mean higher
// priority. FifoScheduler does not consult it and runs tasks in admission
// order.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 10
	PriorityLow    Priority = 20
)

// CpuSet is a bitset of eligible CPUs. Contains treats the zero value as
// "no restriction".
type CpuSet struct {
	bits uint64
}

// NewCpuSet returns an empty affinity set.
func NewCpuSet() CpuSet { return CpuSet{} }

// Add marks cpu as eligible.
func (s CpuSet) Add(cpu uint32) CpuSet {
	s.bits |= 1 << cpu
	return s
}

// Contains reports whether cpu is eligible. An empty set matches every CPU.
func (s CpuSet) Contains(cpu uint32) bool {
	if s.bits == 0 {
		return true
	}
	return s.bits&(1<<cpu) != 0
}

// Entry is a task's body: it runs to completion (or calls Task.Exit early)
// and then the trampoline calls exit on its behalf.
type Entry func(data any)

// Task is a schedulable unit of execution with its own kernel stack.
type Task struct {
	stack    *KernelStack
	entry    Entry
	data     any
	priority Priority
	affinity CpuSet
	cpu      AtomicCpuId
	exited   atomic.Bool
}

// TaskOptions is the builder for a new Task.
type TaskOptions struct {
	entry      Entry
	data       any
	priority   Priority
	affinity   CpuSet
	stackPages uint64
	guard      bool
}

// NewTaskOptions begins building a task that will run entry.
func NewTaskOptions(entry Entry) *TaskOptions {
	return &TaskOptions{
		entry:      entry,
		priority:   PriorityNormal,
		stackPages: DefaultStackPages,
		guard:      true,
	}
}

// Data attaches private data passed to entry.
func (o *TaskOptions) Data(d any) *TaskOptions { o.data = d; return o }

// WithPriority sets the task's scheduling priority.
func (o *TaskOptions) WithPriority(p Priority) *TaskOptions { o.priority = p; return o }

// CpuAffinity restricts which CPUs may run the task.
func (o *TaskOptions) CpuAffinity(s CpuSet) *TaskOptions { o.affinity = s; return o }

// StackPages overrides the default kernel stack size.
func (o *TaskOptions) StackPages(n uint64) *TaskOptions { o.stackPages = n; return o }

// Guarded controls whether the stack gets a guard page. Defaults to true.
func (o *TaskOptions) Guarded(g bool) *TaskOptions { o.guard = g; return o }

// Build allocates the kernel stack and constructs the Task, initializing its
// trampoline's conceptual instruction pointer to entry and its conceptual
// stack pointer to the 16-byte-aligned stack top. It does not insert the
// task into any scheduler.
func (o *TaskOptions) Build() (*Task, kerrors.Err_t) {
	if !reslimit.Syslimit.Tasks.Take() {
		return nil, kerrors.NotEnoughResources
	}
	stack, errt := NewKernelStack(o.stackPages, o.guard)
	if errt != kerrors.OK {
		reslimit.Syslimit.Tasks.Give()
		return nil, errt
	}
	t := &Task{
		stack:    stack,
		entry:    o.entry,
		data:     o.data,
		priority: o.priority,
		affinity: o.affinity,
	}
	t.cpu.SetNone()
	return t, kerrors.OK
}

// Scheduler is the minimal extension point a kernel plugs a real scheduling
// policy into. Fairness and preemption policy are explicitly out of scope
// for this substrate (see DESIGN.md); this interface only guarantees FIFO
// admission and exit bookkeeping.
type Scheduler interface {
	Enqueue(t *Task)
	Current() *Task
	YieldNow()
}

// Spawn builds the task and inserts it into sched.
func (o *TaskOptions) Spawn(sched Scheduler) (*Task, kerrors.Err_t) {
	t, errt := o.Build()
	if errt != kerrors.OK {
		return nil, errt
	}
	sched.Enqueue(t)
	return t, kerrors.OK
}

// Run invokes the task's entry directly on the calling goroutine — the
// hosted stand-in for the trampoline transferring control to entry and then
// to exit, since this substrate has no real context switch to simulate.
func (t *Task) Run() {
	t.entry(t.data)
	t.Exit()
}

// Priority returns the task's scheduling priority.
func (t *Task) Priority() Priority { return t.priority }

// Affinity returns the task's CPU affinity set.
func (t *Task) Affinity() CpuSet { return t.affinity }

// Cpu returns the AtomicCpuId tracking which CPU this task is queued on.
func (t *Task) Cpu() *AtomicCpuId { return &t.cpu }

// Exit drops the task's kernel stack and releases its resource-limit slot.
// Reclaiming the stack immediately, rather than deferring to a later GC
// pass, is this substrate's resolution of the spec's open question: a
// hosted build has no real context switch to defer across, so there is no
// "next task on this CPU" that could still be running on it.
func (t *Task) Exit() {
	if !t.exited.CompareAndSwap(false, true) {
		return
	}
	t.stack.Drop()
	reslimit.Syslimit.Tasks.Give()
}

// Exited reports whether Exit has run.
func (t *Task) Exited() bool { return t.exited.Load() }
