package relation

import (
	"fmt"
	"slices"
	"sync"
)

// OptionLimit is the number of target rows fetched to build a selector. Larger
// target tables are truncated.
const OptionLimit = 100

// Loading is rendered while a label request is in flight.
const Loading = "…"

type LabelState int

const (
	Absent LabelState = iota
	Pending
	Resolved
)

// Option is one selectable value of a relation column.
type Option struct {
	Value string
	Label string
}

// ResolutionError records a relation lookup that failed. It never blocks the
// record list; the affected column falls back to raw values.
type ResolutionError struct {
	Column string
	Table  string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to load options for %s from %s: %v", e.Column, e.Table, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

type labelEntry struct {
	state LabelState
	label string
}

// Scope holds the relation state of the active table: the label cache and the
// option set. Reset clears it wholesale; within one table it only grows.
// Writes carry the generation they were started under and are ignored once
// the scope has moved on.
type Scope struct {
	mu         sync.Mutex
	generation uint64
	table      string
	labels     map[string]labelEntry
	options    map[string][]Option
	truncated  map[string]bool
	errors     map[string]error
}

func NewScope() *Scope {
	s := &Scope{}
	s.clear()
	return s
}

func (s *Scope) clear() {
	s.labels = make(map[string]labelEntry)
	s.options = make(map[string][]Option)
	s.truncated = make(map[string]bool)
	s.errors = make(map[string]error)
}

// Reset empties the scope for a newly selected table and returns the new
// generation.
func (s *Scope) Reset(table string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.table = table
	s.clear()
	return s.generation
}

func (s *Scope) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Scope) Table() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table
}

func cacheKey(table, raw string) string {
	return table + ":" + raw
}

// Label returns the cached label of a target row.
func (s *Scope) Label(table, raw string) (string, LabelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.labels[cacheKey(table, raw)]
	if !ok {
		return "", Absent
	}
	return entry.label, entry.state
}

// Render returns the cell text of a relation value.
func (s *Scope) Render(d Descriptor, raw string) string {
	if raw == "" {
		return ""
	}
	label, state := s.Label(d.TargetTable, raw)
	switch state {
	case Pending:
		return Loading
	case Resolved:
		return Display(label, raw)
	default:
		return Fallback(raw)
	}
}

// Options returns the selector options of a column, and whether the list was
// cut at OptionLimit.
func (s *Scope) Options(column string) ([]Option, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	options := s.options[column]
	return slices.Clone(options), s.truncated[column]
}

// OptionError returns the failure recorded while loading a column's options.
func (s *Scope) OptionError(column string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors[column]
}

// CachedLabels reports how many labels are pending or resolved.
func (s *Scope) CachedLabels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.labels)
}

// claim marks the absent keys as pending and returns them. Keys already
// pending or resolved are skipped.
func (s *Scope) claim(generation uint64, keys []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return nil
	}
	claimed := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := s.labels[key]; ok {
			continue
		}
		s.labels[key] = labelEntry{state: Pending}
		claimed = append(claimed, key)
	}
	return claimed
}

func (s *Scope) resolve(generation uint64, key, label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return false
	}
	s.labels[key] = labelEntry{state: Resolved, label: label}
	return true
}

// release returns a pending key to absent so a later batch can retry it.
func (s *Scope) release(generation uint64, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return
	}
	if entry, ok := s.labels[key]; ok && entry.state == Pending {
		delete(s.labels, key)
	}
}

func (s *Scope) setOptions(generation uint64, column string, options []Option, truncated bool, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return false
	}
	s.options[column] = options
	s.truncated[column] = truncated
	if err != nil {
		s.errors[column] = err
	} else {
		delete(s.errors, column)
	}
	return true
}
