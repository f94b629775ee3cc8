package resource

import (
	"fmt"
	"sort"
	"strings"
)

// Requirement is a set of typed quantities a task needs to run,
// e.g. {cpu: 2, gpu: 1}.
type Requirement map[string]int

// Capacity is a named amount of each resource type in a pool.
type Capacity map[string]int

// Clone returns an independent copy.
func (c Capacity) Clone() Capacity {
	out := make(Capacity, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Fits reports whether the requirement fits within the given free capacity.
func (r Requirement) Fits(free Capacity) bool {
	for kind, amount := range r {
		if free[kind] < amount {
			return false
		}
	}
	return true
}

// Empty reports whether the requirement asks for nothing.
func (r Requirement) Empty() bool {
	for _, amount := range r {
		if amount > 0 {
			return false
		}
	}
	return true
}

func (r Requirement) String() string {
	if len(r) == 0 {
		return "{}"
	}
	kinds := make([]string, 0, len(r))
	for kind := range r {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, fmt.Sprintf("%s:%d", kind, r[kind]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Pool is a named resource pool with a fixed total capacity.
// Pool state is only ever mutated by the Allocator.
type Pool struct {
	Name  string
	Total Capacity
}

// NewPool builds a pool from a total capacity.
func NewPool(name string, total Capacity) Pool {
	return Pool{Name: name, Total: total.Clone()}
}
