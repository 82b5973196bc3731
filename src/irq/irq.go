// Package irq implements the IRQ line subsystem: a bounded id allocator,
// per-line callback lists with RAII-style handles, and ordered top-half
// dispatch.
package irq

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"caller"
	"kerrors"
	"kstat"
)

// noCbSites records, the first time only, which call chain raised an IRQ
// with no registered callback — the throttled Warn below fires on every
// storm, but the full stack trace is only worth logging once per distinct
// offender.
var noCbSites = caller.NewDistinctSites(true)

const (
	NumMin = 32
	NumMax = 255
)

var log = logrus.WithField("subsystem", "irq")

// TrapFrame carries whatever context a callback needs about the interrupt
// that fired. The substrate treats it opaquely; only the platform layer
// that invokes Dispatch knows its shape.
type TrapFrame struct {
	Num  int
	Data any
}

// Callback is invoked for each registered handler on a line, in
// registration order, with a trap frame. It must not block.
type Callback func(TrapFrame)

type callbackEntry struct {
	id int64
	fn Callback
}

type lineState struct {
	mu        sync.RWMutex
	callbacks []callbackEntry
	nextID    int64
	refcount  int64
	remapIdx  int
	remapSet  bool
	noCbLim   *rate.Limiter
}

// idAlloc is a bitmap-backed allocator over [NumMin, NumMax].
type idAlloc struct {
	mu   sync.Mutex
	used [NumMax + 1]bool
}

func (a *idAlloc) alloc() (int, kerrors.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for n := NumMin; n <= NumMax; n++ {
		if !a.used[n] {
			a.used[n] = true
			return n, kerrors.OK
		}
	}
	return 0, kerrors.NotEnoughResources
}

func (a *idAlloc) allocSpecific(n int) kerrors.Err_t {
	if n < NumMin || n > NumMax {
		return kerrors.InvalidArgs
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.used[n] {
		return kerrors.NotEnoughResources
	}
	a.used[n] = true
	return kerrors.OK
}

func (a *idAlloc) free(n int) {
	a.mu.Lock()
	a.used[n] = false
	a.mu.Unlock()
}

var (
	ids   = &idAlloc{}
	linesMu sync.Mutex
	lines   = map[int]*lineState{}
)

func lineFor(num int) *lineState {
	linesMu.Lock()
	defer linesMu.Unlock()
	l, ok := lines[num]
	if !ok {
		l = &lineState{noCbLim: rate.NewLimiter(rate.Every(time.Second), 1)}
		lines[num] = l
	}
	return l
}

// Line is a cloneable handle to an allocated IRQ number. All clones share
// the same callback list; the line's number is freed when the last clone is
// dropped.
type Line struct {
	num   int
	state *lineState
}

// Alloc reserves the lowest free IRQ number.
func Alloc() (Line, kerrors.Err_t) {
	n, errt := ids.alloc()
	if errt != kerrors.OK {
		return Line{}, errt
	}
	return newLine(n), kerrors.OK
}

// AllocSpecific reserves a specific IRQ number.
func AllocSpecific(n int) (Line, kerrors.Err_t) {
	if errt := ids.allocSpecific(n); errt != kerrors.OK {
		return Line{}, errt
	}
	return newLine(n), kerrors.OK
}

func newLine(n int) Line {
	st := lineFor(n)
	st.mu.Lock()
	st.refcount++
	st.mu.Unlock()
	return Line{num: n, state: st}
}

// Num returns the line's IRQ number.
func (l Line) Num() int { return l.num }

// Clone returns another handle sharing this line's number and callback
// list.
func (l Line) Clone() Line {
	l.state.mu.Lock()
	l.state.refcount++
	l.state.mu.Unlock()
	return l
}

// Drop releases this handle. When the last clone of a line is dropped, the
// IRQ number is freed for AllocSpecific/Alloc.
func (l Line) Drop() {
	l.state.mu.Lock()
	l.state.refcount--
	last := l.state.refcount == 0
	l.state.mu.Unlock()
	if last {
		linesMu.Lock()
		delete(lines, l.num)
		linesMu.Unlock()
		ids.free(l.num)
	}
}

// remapIndex lazily assigns and returns the line's interrupt-remapping
// index, stable for the line's lifetime.
func (l Line) remapIndex() int {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	if !l.state.remapSet {
		l.state.remapIdx = l.num // hosted sim: identity remap table
		l.state.remapSet = true
	}
	return l.state.remapIdx
}

// CallbackHandle unregisters its callback when Drop is called, and is a
// no-op if called more than once.
type CallbackHandle struct {
	state *lineState
	id    int64
	once  sync.Once
}

// OnActive registers cb on the line, to run on every dispatch from now on.
func (l Line) OnActive(cb Callback) CallbackHandle {
	l.state.mu.Lock()
	id := l.state.nextID
	l.state.nextID++
	l.state.callbacks = append(l.state.callbacks, callbackEntry{id: id, fn: cb})
	l.state.mu.Unlock()
	_ = l.remapIndex()
	return CallbackHandle{state: l.state, id: id}
}

// Drop unregisters the callback. Safe to call more than once.
func (h *CallbackHandle) Drop() {
	h.once.Do(func() {
		h.state.mu.Lock()
		defer h.state.mu.Unlock()
		for i, e := range h.state.callbacks {
			if e.id == h.id {
				h.state.callbacks = append(h.state.callbacks[:i:i], h.state.callbacks[i+1:]...)
				return
			}
		}
	})
}

// Dispatch invokes every registered callback on irqNum in registration
// order exactly once, the way the platform top-half does on a hardware
// event. Firing an IRQ with no registered callbacks is not an error: the
// source treats it as a no-op and this function does not panic, only
// logging a throttled diagnostic so an interrupt storm cannot flood the
// log.
func Dispatch(irqNum int, frame TrapFrame) {
	linesMu.Lock()
	st, ok := lines[irqNum]
	linesMu.Unlock()
	if !ok {
		return
	}

	st.mu.RLock()
	cbs := append([]callbackEntry(nil), st.callbacks...)
	lim := st.noCbLim
	st.mu.RUnlock()

	if len(cbs) == 0 {
		if lim.Allow() {
			log.WithField("irq", irqNum).Warn("IRQ fired with no registered callback")
		}
		if first, trace := noCbSites.Report(); first {
			log.WithField("irq", irqNum).Warnf("first occurrence from this call chain:\n%s", trace)
		}
		return
	}

	kstat.RecordIrq(irqNum)
	for _, e := range cbs {
		e.fn(frame)
	}
}

func (l Line) String() string {
	return fmt.Sprintf("irq.Line{num=%d}", l.num)
}
