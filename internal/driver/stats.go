package driver

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"opal/internal/artifact"
)

// Stats summarizes one lowered bundle.
type Stats struct {
	Funcs   int
	Blocks  int
	Instrs  int
	Classes int // classes that received a vtable
	Slots   int // total populated slots across all tables
}

func collectStats(b *artifact.Bundle) Stats {
	var s Stats
	if b == nil || b.Module == nil {
		return s
	}
	for _, f := range b.Module.Funcs {
		if f == nil {
			continue
		}
		s.Funcs++
		s.Blocks += len(f.Blocks)
		s.Instrs += len(f.Arena)
	}
	if b.Table != nil {
		classes := b.Table.Classes()
		s.Classes = len(classes)
		for _, c := range classes {
			s.Slots += len(b.Table.ClassSlots(c))
		}
	}
	return s
}

// Summary renders the stats with grouped digits for the terminal.
func (s Stats) Summary() string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("lowered %d functions (%d blocks, %d instructions), %d vtables with %d slots",
		s.Funcs, s.Blocks, s.Instrs, s.Classes, s.Slots)
}
