// Package query defines the node variants a collection query is built from.
//
// A query is a tree of Node values constructed as composite literals:
//
//	&query.Fanout{Children: []query.Node{
//		&query.Select{Key: "id", Child: &query.Element{Pos: 1}},
//		&query.Select{Key: "tags", Child: &query.ForEach{
//			Child: &query.Element{Pos: 2},
//		}},
//	}}
//
// The set of variants is closed: the compiler and the executor both match
// nodes exhaustively by type switch. Trees are not validated here; see
// internal/plan.
package query

import (
	"reflect"

	"github.com/jacoelho/collect/internal/number"
)

// Node is one variant of the query tree.
// Implementations are the structs in this package and nothing else.
type Node interface {
	node()
}

// TestFunc checks a single value for filtering purposes.
type TestFunc func(v any) bool

// KeyFunc transforms a raw value into a group key. It is the adapter for
// values that are not directly usable as map keys.
type KeyFunc func(v any) any

// FilterMode states whether a test admits or rejects matching values.
type FilterMode int

const (
	// ModeInclude rejects values for which the test is false.
	ModeInclude FilterMode = iota
	// ModeExclude rejects values for which the test is true.
	ModeExclude
)

// Filter is one entry of the ordered filter list attached to a leaf.
// A Filter with a nil Test has no effect.
type Filter struct {
	Mode FilterMode
	Test TestFunc
}

// Include returns a filter that rejects values failing the test.
func Include(test TestFunc) Filter {
	return Filter{Mode: ModeInclude, Test: test}
}

// Exclude returns a filter that rejects values passing the test.
func Exclude(test TestFunc) Filter {
	return Filter{Mode: ModeExclude, Test: test}
}

// In returns a membership test over the given values.
// Numeric values compare by value across int/uint/float representations, so
// a set built from YAML integers matches JSON-decoded float64 data.
func In(values ...any) TestFunc {
	set := make([]any, len(values))
	copy(set, values)
	return func(v any) bool {
		for _, candidate := range set {
			if Equal(v, candidate) {
				return true
			}
		}
		return false
	}
}

// Equal compares two values, treating numeric values as equal when they
// represent the same number regardless of their Go type.
func Equal(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}

	aNumber, aIsNumber := number.ToFloat64(a)
	bNumber, bIsNumber := number.ToFloat64(b)
	if aIsNumber && bIsNumber {
		return aNumber == bNumber
	}

	return false
}

// Accept runs filters in order against v and reports whether every filter
// admits it.
func Accept(filters []Filter, v any) bool {
	for _, f := range filters {
		if f.Test == nil {
			continue
		}
		matched := f.Test(v)
		if f.Mode == ModeInclude && !matched {
			return false
		}
		if f.Mode == ModeExclude && matched {
			return false
		}
	}
	return true
}

// Select descends into a mapping value under Key and hands the result to
// Child. A missing key is a fatal lookup failure at execution time.
type Select struct {
	Key   any
	Child Node
}

// ForEach treats the current value as an ordered sequence and applies Child
// once per element, in sequence order.
type ForEach struct {
	Child Node
}

// Fanout applies every child, in declared order, to the same current value.
// It requires at least two children. Order is significant: a rejection in one
// child skips the children declared after it for the current value, so guards
// and constant branches belong before an iterating branch.
type Fanout struct {
	Children []Node
}

// Element is a terminal node recording the current value as output argument
// number Pos. Filters run in order before the value is recorded.
type Element struct {
	Pos     int
	Filters []Filter
}

// Group is a terminal node recording a group key at grouping level Pos.
// Key, when set, transforms the raw value first; Filters then run against
// the transformed key.
type Group struct {
	Pos     int
	Key     KeyFunc
	Filters []Filter
}

// Guard is a terminal node that only applies filters to the current value.
// It captures nothing; its sole effect is rejecting the surrounding branch.
type Guard struct {
	Filters []Filter
}

func (*Select) node()  {}
func (*ForEach) node() {}
func (*Fanout) node()  {}
func (*Element) node() {}
func (*Group) node()   {}
func (*Guard) node()   {}
