package command

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Registry is an immutable table of command definitions. It is safe for
// concurrent use without locking because nothing mutates it after NewRegistry.
type Registry struct {
	defs map[ID]Definition
	ids  []ID
}

func NewRegistry(defs ...Definition) (*Registry, error) {
	table := make(map[ID]Definition, len(defs))
	for _, def := range defs {
		if def == nil || def.ID() == "" {
			return nil, fmt.Errorf("respcmd: registry: definition without id")
		}
		id := ID(strings.ToUpper(string(def.ID())))
		if _, dup := table[id]; dup {
			return nil, fmt.Errorf("respcmd: registry: duplicate command %s", id)
		}
		table[id] = def
	}
	ids := lo.Keys(table)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &Registry{defs: table, ids: ids}, nil
}

func MustRegistry(defs ...Definition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup is case-insensitive on the id.
func (r *Registry) Lookup(id ID) (Definition, bool) {
	def, ok := r.defs[ID(strings.ToUpper(string(id)))]
	return def, ok
}

func (r *Registry) Len() int {
	return len(r.ids)
}

// IDs returns the registered ids in lexical order.
func (r *Registry) IDs() []ID {
	out := make([]ID, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *Registry) Definitions() []Definition {
	return lo.Map(r.ids, func(id ID, _ int) Definition {
		return r.defs[id]
	})
}

var defaultRegistry = MustRegistry(
	LatencyReset,
	LatencyLatest,
	LatencyHistory,
	LatencyDoctor,
	LatencyGraph,
	LatencyHistogramCmd,
	LatencyHelp,
	ConfigSet,
	ConfigGet,
	ConfigResetStat,
	DebugSleep,
	SlowlogGet,
	SlowlogLen,
	SlowlogReset,
	Ping,
	Echo,
	Time,
	Info,
	Get,
	Set,
	Del,
	Exists,
	Incr,
	DBSize,
)

// DefaultRegistry holds every command of this package.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
