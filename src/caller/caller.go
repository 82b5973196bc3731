// Package caller gives diagnostic call sites a way to say "only report this
// the first time it happens from a given stack", so a latent bug (an
// unhandled IRQ line, a lock acquired in an unexpected order) produces one
// useful trace instead of flooding the log every time it recurs.
package caller

import (
	"fmt"
	"runtime"
	"sync"
)

// Dump renders the call stack starting at the given skip depth as a
// newline-joined "file:line" chain, most recent call first.
func Dump(skip int) string {
	i := skip
	var s string
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}

// DistinctSites deduplicates diagnostic reports by call chain: the same
// sequence of return addresses is only ever reported once. Kernel-substrate
// diagnostics (an IRQ line with no registered callback, a lock reacquired
// from an unexpected nesting depth) use this to avoid turning a single bug
// into unbounded log output.
type DistinctSites struct {
	mu        sync.Mutex
	enabled   bool
	seen      map[uintptr]bool
	whitelist map[string]bool
}

// NewDistinctSites returns a tracker. If enabled is false, Report always
// returns false without recording anything — useful to wire a diagnostic up
// once and flip it on only when chasing a specific issue.
func NewDistinctSites(enabled bool) *DistinctSites {
	return &DistinctSites{enabled: enabled, whitelist: make(map[string]bool)}
}

// Whitelist marks a function name as never worth reporting, even the first
// time: some callers (test harnesses, a known-safe wrapper) legitimately
// trigger the condition being diagnosed.
func (d *DistinctSites) Whitelist(funcName string) {
	d.mu.Lock()
	d.whitelist[funcName] = true
	d.mu.Unlock()
}

// Len returns the number of distinct call chains recorded so far.
func (d *DistinctSites) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// hash combines a slice of PCs into a single key. A collision would only
// cause a distinct chain's first report to be suppressed, never a spurious
// report, so a cheap multiplicative mix is enough.
func hash(pcs []uintptr) uintptr {
	var ret uintptr
	for _, pc := range pcs {
		ret ^= pc*1103515245 + 12345
	}
	return ret
}

// Report reports whether the caller's current stack (skipping Report
// itself, starting at its immediate caller) has been seen before. The first time a
// given chain appears, it returns true along with a formatted trace; every
// subsequent call from the same chain returns false.
func (d *DistinctSites) Report() (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return false, ""
	}
	if d.seen == nil {
		d.seen = make(map[uintptr]bool)
	}

	var pcs []uintptr
	for sz, got := 32, 32; got >= sz; sz *= 2 {
		pcs = make([]uintptr, sz)
		got = runtime.Callers(2, pcs)
		if got == 0 {
			return false, ""
		}
		pcs = pcs[:got]
	}

	h := hash(pcs)
	if d.seen[h] {
		return false, ""
	}

	frames := runtime.CallersFrames(pcs)
	var fs string
	for {
		fr, more := frames.Next()
		if d.whitelist[fr.Function] {
			return false, ""
		}
		if fs == "" {
			fs = fmt.Sprintf("%v (%v:%v)\n", fr.Function, fr.File, fr.Line)
		} else {
			fs += fmt.Sprintf("\t%v (%v:%v)\n", fr.Function, fr.File, fr.Line)
		}
		if !more || fr.Function == "runtime.goexit" {
			break
		}
	}
	d.seen[h] = true
	return true, fs
}
