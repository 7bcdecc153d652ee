package metrics

import (
	"fmt"
	"slices"
	"strings"
)

// Group of tags a metric is computed over.
type Group int

const (
	// All positions and labels.
	All Group = iota
	// Filtered excludes the structural markers and the "O" tag.
	Filtered
	// Individual retains exactly one semantic tag, named by Key.Tag.
	Individual
)

var groupNames = [...]string{All: "all", Filtered: "fil", Individual: "ind"}

func (g Group) String() string {
	if g < 0 || int(g) >= len(groupNames) {
		return fmt.Sprintf("Group(%d)", int(g))
	}
	return groupNames[g]
}

// Kind of metric.
type Kind int

const (
	Loss Kind = iota
	Accuracy
	Precision
	Recall
	F1
)

var kindNames = [...]string{Loss: "loss", Accuracy: "acc", Precision: "precision", Recall: "recall", F1: "f1"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Average is the averaging variant of a metric: Simple for loss and accuracy, Micro or Macro for the others.
type Average int

const (
	Simple Average = iota
	Micro
	Macro
)

var averageNames = [...]string{Simple: "simple", Micro: "micro", Macro: "macro"}

func (a Average) String() string {
	if a < 0 || int(a) >= len(averageNames) {
		return fmt.Sprintf("Average(%d)", int(a))
	}
	return averageNames[a]
}

// Key identifies one metric value of a Record.
type Key struct {
	Group   Group
	Tag     string // Only for Individual.
	Kind    Kind
	Average Average
}

// String returns the flat metric name used by trackers, e.g. "all_f1_macro", "fil_precision_micro",
// "all_acc" or "PER_f1" (individual tags only report micro values, with the average left out).
func (k Key) String() string {
	prefix := k.Group.String()
	if k.Group == Individual {
		prefix = k.Tag
	}
	if k.Average == Simple || k.Group == Individual {
		return prefix + "_" + k.Kind.String()
	}
	return prefix + "_" + k.Kind.String() + "_" + k.Average.String()
}

// Less orders keys by group, tag, kind and average.
func (k Key) Less(other Key) bool {
	if k.Group != other.Group {
		return k.Group < other.Group
	}
	if k.Tag != other.Tag {
		return k.Tag < other.Tag
	}
	if k.Kind != other.Kind {
		return k.Kind < other.Kind
	}
	return k.Average < other.Average
}

// Size of the unit metrics are computed over.
type Size int

const (
	Batch Size = iota
	Epoch
)

func (s Size) String() string {
	if s == Batch {
		return "batch"
	}
	return "epoch"
}

// Phase of the training loop.
type Phase int

const (
	Train Phase = iota
	Valid
)

func (p Phase) String() string {
	if p == Train {
		return "train"
	}
	return "valid"
}

// Scope of a Record, e.g. {Batch, Train} or {Epoch, Valid}.
type Scope struct {
	Size  Size
	Phase Phase
}

func (s Scope) String() string { return s.Size.String() + "/" + s.Phase.String() }

// Record holds the metric values computed once for a Scope. It is not modified after Compute returns.
type Record struct {
	Scope  Scope
	Values map[Key]float64
}

// Get returns the value of key, and whether it is present.
func (r *Record) Get(key Key) (float64, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// Lookup returns the value with the given flat name (see Key.String).
func (r *Record) Lookup(name string) (float64, bool) {
	for k, v := range r.Values {
		if k.String() == name {
			return v, true
		}
	}
	return 0, false
}

// Keys returns the keys present, sorted.
func (r *Record) Keys() []Key {
	keys := make([]Key, 0, len(r.Values))
	for k := range r.Values {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return keys
}

// Flat returns the values keyed by their flat names.
func (r *Record) Flat() map[string]float64 {
	flat := make(map[string]float64, len(r.Values))
	for k, v := range r.Values {
		flat[k.String()] = v
	}
	return flat
}

// String lists the values sorted by key, one "name=value" per entry.
func (r *Record) String() string {
	var sb strings.Builder
	sb.WriteString(r.Scope.String())
	for _, k := range r.Keys() {
		fmt.Fprintf(&sb, " %s=%.4f", k, r.Values[k])
	}
	return sb.String()
}
