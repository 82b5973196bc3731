package frame

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Stats is a point-in-time snapshot of frame table occupancy.
type Stats struct {
	FreeBytes  uint64
	UsedFrames int
}

// Snapshot reports the current occupancy of the global frame table.
func Snapshot() Stats {
	globalTable.mu.Lock()
	used := len(globalTable.slots)
	globalTable.mu.Unlock()
	return Stats{FreeBytes: globalTable.FreeBytes(), UsedFrames: used}
}

// String renders the snapshot with thousands separators, for the kcoresim
// diagnostic CLI.
func (s Stats) String() string {
	return printer.Sprintf("%d frames in use, %d bytes free", s.UsedFrames, s.FreeBytes)
}
