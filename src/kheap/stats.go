package kheap

import (
	"fmt"
	"time"

	"github.com/google/pprof/profile"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// String renders a Stats snapshot with thousands separators, for the
// kcoresim diagnostic CLI.
func (s Stats) String() string {
	return printer.Sprintf("%d live allocations, %d pages free", s.LiveAllocations, s.FreePages)
}

// Profile renders the heap's current occupancy as a pprof profile — one
// sample per slab tier with live allocations, plus one for live direct
// buddy allocations if there are any — so it can be
// fed to `go tool pprof` from the kcoresim heapstat subcommand.
func (h *Heap) Profile() *profile.Profile {
	h.mu.Lock()
	type bucket struct {
		count int64
		bytes int64
	}
	buckets := make(map[int]*bucket)
	for _, a := range h.allocated {
		b, ok := buckets[a.tier]
		if !ok {
			b = &bucket{}
			buckets[a.tier] = b
		}
		b.count++
		b.bytes += int64(a.size)
	}
	h.mu.Unlock()

	fn := &profile.Function{ID: 1, Name: "kheap.Heap"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "inuse_objects", Unit: "count"},
			{Type: "inuse_space", Unit: "bytes"},
		},
		Function:     []*profile.Function{fn},
		Location:     []*profile.Location{loc},
		TimeNanos:    time.Now().UnixNano(),
		PeriodType:   &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:       1,
	}

	label := func(tier int) string {
		if tier == -1 {
			return "buddy-direct"
		}
		return fmt.Sprintf("slab-%d", slabSizes[tier])
	}
	for tier, b := range buckets {
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{b.count, b.bytes},
			Label:    map[string][]string{"tier": {label(tier)}},
		})
	}
	return p
}
