// Command kcoresim drives the memory-management and concurrency substrate
// from the outside: it boots a simulated arena, heap, IRQ lines and
// scheduler, reports
// heap allocator state, and walks a page table tree for structural
// consistency, standing in for the diagnostic tooling a real kernel would
// expose through a serial console or a debugfs mount.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("subsystem", "kcoresim")

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&bootCmd{}, "")
	subcommands.Register(&heapstatCmd{}, "")
	subcommands.Register(&fsckPtesCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
