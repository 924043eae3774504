// Package route turns per-process path patterns into a lookup table and
// resolves request paths to exactly one upstream.
package route

import (
	"sort"
	"strings"

	"github.com/loykin/realm/internal/process"
)

// DefaultPort is used for processes that have routes but no port.
const DefaultPort uint16 = 3000

// Fallback is the catch-all pattern used when nothing more specific matches.
const Fallback = "/"

// Entry binds one path pattern to the process serving it.
type Entry struct {
	Pattern string `json:"pattern"`
	Process string `json:"process"`
	Port    uint16 `json:"port"`
}

// Wildcard reports whether the pattern is a prefix pattern ending in '*'.
func (e Entry) Wildcard() bool { return strings.HasSuffix(e.Pattern, "*") }

// Prefix returns the pattern without its trailing '*'.
func (e Entry) Prefix() string { return strings.TrimSuffix(e.Pattern, "*") }

// Table is an immutable route table. The zero value and nil match nothing.
type Table struct {
	entries []Entry
}

// Build emits one entry per (process, pattern). Processes are visited in name
// order and patterns in configured order, so the resulting construction order
// is stable for a given set of specs.
func Build(specs []process.Spec) *Table {
	sorted := make([]process.Spec, len(specs))
	copy(sorted, specs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	t := &Table{}
	for _, s := range sorted {
		port := s.Port
		if port == 0 {
			port = DefaultPort
		}
		for _, p := range s.Routes {
			t.entries = append(t.entries, Entry{Pattern: p, Process: s.Name, Port: port})
		}
	}
	return t
}

// New builds a table from entries in the given construction order.
func New(entries []Entry) *Table {
	return &Table{entries: append([]Entry(nil), entries...)}
}

// Match resolves path to one entry:
//  1. a non-wildcard pattern equal to path wins outright;
//  2. otherwise the wildcard with the longest matching prefix, ties going to
//     the entry built first;
//  3. otherwise the "/" fallback, if registered.
func (t *Table) Match(path string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	var (
		wild     Entry
		wildOK   bool
		fallback Entry
		fbOK     bool
	)
	for _, e := range t.entries {
		if !e.Wildcard() {
			if e.Pattern == path {
				return e, true
			}
			if e.Pattern == Fallback && !fbOK {
				fallback, fbOK = e, true
			}
			continue
		}
		prefix := e.Prefix()
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if !wildOK || len(prefix) > len(wild.Prefix()) {
			wild, wildOK = e, true
		}
	}
	if wildOK {
		return wild, true
	}
	return fallback, fbOK
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries returns a copy of the entries in construction order.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	return append([]Entry(nil), t.entries...)
}

// Sorted returns the entries in display order: exact patterns first, then
// wildcards, each group by descending pattern length.
func (t *Table) Sorted() []Entry {
	out := t.Entries()
	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := out[i].Wildcard(), out[j].Wildcard()
		if wi != wj {
			return !wi
		}
		return len(out[i].Pattern) > len(out[j].Pattern)
	})
	return out
}
