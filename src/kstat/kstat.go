// Package kstat holds the substrate's lightweight, compile-time-gated
// counters, in the spirit of biscuit's stats package: cheap no-ops when
// disabled, plain atomic counters when enabled, with no dependency on a
// custom runtime.
package kstat

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Enabled gates whether Counter_t/Cycles_t updates do any work at all.
const Enabled = false

// IrqCounts tracks dispatch counts per IRQ number, sized for a typical
// vector space; Irqs is the running total across all lines.
var IrqCounts [256]int64
var Irqs int64

// Counter_t is a plain event counter.
type Counter_t struct{ v int64 }

// Cycles_t accumulates elapsed nanoseconds (wall-clock, not cycles: this
// substrate is hosted, with no RDTSC-equivalent available without a forked
// runtime).
type Cycles_t struct{ v int64 }

// Inc increments the counter when stats collection is enabled.
func (c *Counter_t) Inc() {
	if Enabled {
		atomic.AddInt64(&c.v, 1)
	}
}

// Value returns the counter's current value.
func (c *Counter_t) Value() int64 { return atomic.LoadInt64(&c.v) }

// Since returns the current instant, for pairing with Add.
func Since() time.Time { return time.Now() }

// Add records the elapsed time since start.
func (c *Cycles_t) Add(start time.Time) {
	if Enabled {
		atomic.AddInt64(&c.v, int64(time.Since(start)))
	}
}

// Value returns the accumulated duration.
func (c *Cycles_t) Value() time.Duration { return time.Duration(atomic.LoadInt64(&c.v)) }

// RecordIrq bumps the per-line and total IRQ dispatch counters.
func RecordIrq(line int) {
	if !Enabled {
		return
	}
	atomic.AddInt64(&Irqs, 1)
	if line >= 0 && line < len(IrqCounts) {
		atomic.AddInt64(&IrqCounts[line], 1)
	}
}

// Dump renders every Counter_t/Cycles_t field of st as a human-readable
// report, used by diagnostic CLI subcommands.
func Dump(st interface{}) string {
	if !Enabled {
		return ""
	}
	v := reflect.ValueOf(st)
	var s strings.Builder
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name
		switch f := v.Field(i).Interface().(type) {
		case Counter_t:
			s.WriteString("\n\t#" + name + ": " + strconv.FormatInt(f.Value(), 10))
		case Cycles_t:
			s.WriteString("\n\t#" + name + ": " + f.Value().String())
		}
	}
	s.WriteString("\n")
	return s.String()
}
