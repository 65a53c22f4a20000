package command

import (
	"slices"

	"github.com/samber/lo"
)

// Scope restricts a command to named identifiers (e.g. latency event names).
// The zero value means all identifiers. A Scope holding names always holds
// at least one, so "no filter" and "empty filter" cannot be told apart.
type Scope struct {
	names []string
}

func AllEvents() Scope {
	return Scope{}
}

func Events(first string, more ...string) Scope {
	names := make([]string, 0, 1+len(more))
	names = append(names, first)
	names = append(names, more...)
	return Scope{names: names}
}

// EventsOf builds a Scope from a list that may be empty; empty means all.
func EventsOf(names []string) Scope {
	if len(names) == 0 {
		return AllEvents()
	}
	return Scope{names: slices.Clone(names)}
}

func (s Scope) IsAll() bool {
	return len(s.names) == 0
}

func (s Scope) Names() []string {
	return slices.Clone(s.names)
}

func (s Scope) validate() error {
	for i, name := range s.names {
		if name == "" {
			return invalidArg("scope identifier %d is empty", i)
		}
	}
	return nil
}

func (s Scope) appendTo(args Args) Args {
	return append(args, lo.ToAnySlice(s.names)...)
}
