// Package collector executes compiled plans against input records.
//
// A collector owns a compiled plan plus the two caller-supplied
// collaborators: a factory producing empty inner containers and an inserter
// writing one positional tuple into a container. Plain collectors fill a
// single container; grouped collectors fill a nested mapping keyed by the
// group levels of the query, creating inner containers lazily per visited
// key path.
//
// Execution is single-threaded and synchronous; recursion depth equals the
// query depth, not the input size. The plan is never mutated, so one plan may
// back any number of collectors and concurrent Collect calls, each of which
// uses its own scratch state.
package collector

import (
	"errors"
	"fmt"
	"iter"
	"reflect"
	"slices"

	"github.com/jacoelho/collect/internal/plan"
	"github.com/jacoelho/collect/internal/query"
	"github.com/jacoelho/collect/internal/vector"
)

// Run-time failures. Lookup failures and type mismatches are fatal: they
// abort the whole Collect call with no partial result. Traversal location is
// deliberately not attached; callers needing diagnostics must wrap their
// input access themselves.
var (
	ErrLookup           = errors.New("lookup failure")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrKeyNotComparable = errors.New("group key is not comparable")
	ErrStrategy         = errors.New("query does not match collector strategy")
	ErrNilCollaborator  = errors.New("factory and inserter must not be nil")
)

// Factory produces a fresh, empty inner container.
type Factory[Inner any] func() Inner

// Inserter writes one tuple of element values, in position order, into a
// container. Accumulation, deduplication or counting is entirely its
// business. Inner should be a reference-like type (map, pointer, ...) for
// mutations to be visible to the caller.
type Inserter[Inner any] func(inner Inner, values ...any)

// Grouping is the result of a grouped collection: a mapping nested once per
// group level, with inner containers at the bottom.
type Grouping map[any]any

// At follows a key path through the nested mapping. The second return is
// false when any key on the path was never visited.
func (g Grouping) At(keys ...any) (any, bool) {
	var current any = g
	for _, key := range keys {
		level, ok := current.(Grouping)
		if !ok {
			return nil, false
		}
		current, ok = level[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Plain collects every accepted tuple into a single container.
type Plain[Inner any] struct {
	plan    *plan.Plan
	factory Factory[Inner]
	insert  Inserter[Inner]
}

// NewPlain compiles root and returns a plain collector for it.
// The query must not define group levels.
func NewPlain[Inner any](root query.Node, factory Factory[Inner], insert Inserter[Inner]) (*Plain[Inner], error) {
	p, err := plan.Compile(root)
	if err != nil {
		return nil, err
	}
	return PlainFromPlan(p, factory, insert)
}

// PlainFromPlan builds a plain collector around an already compiled plan,
// allowing one plan to back several collectors.
func PlainFromPlan[Inner any](p *plan.Plan, factory Factory[Inner], insert Inserter[Inner]) (*Plain[Inner], error) {
	if factory == nil || insert == nil {
		return nil, ErrNilCollaborator
	}
	if p.Groups != 0 {
		return nil, fmt.Errorf("%w: query defines %d group levels, use a grouped collector", ErrStrategy, p.Groups)
	}
	return &Plain[Inner]{plan: p, factory: factory, insert: insert}, nil
}

// Plan returns the compiled plan backing this collector.
func (c *Plain[Inner]) Plan() *plan.Plan {
	return c.plan
}

// Collect walks every record through the plan and returns the filled
// container. On a fatal traversal error the zero Inner is returned.
func (c *Plain[Inner]) Collect(records iter.Seq[any]) (Inner, error) {
	r := &run[Inner]{
		insert:   c.insert,
		elements: vector.New(c.plan.Elements),
		inner:    c.factory(),
		bound:    true,
	}
	for record := range records {
		if _, err := r.walk(c.plan.Root, record); err != nil {
			var zero Inner
			return zero, err
		}
	}
	return r.inner, nil
}

// CollectSlice is Collect over an in-memory record slice.
func (c *Plain[Inner]) CollectSlice(records []any) (Inner, error) {
	return c.Collect(slices.Values(records))
}

// Grouped collects tuples into a nested mapping with one level per group
// position in the query.
type Grouped[Inner any] struct {
	plan    *plan.Plan
	factory Factory[Inner]
	insert  Inserter[Inner]
}

// NewGrouped compiles root and returns a grouped collector for it.
// The query must define at least one group level.
func NewGrouped[Inner any](root query.Node, factory Factory[Inner], insert Inserter[Inner]) (*Grouped[Inner], error) {
	p, err := plan.Compile(root)
	if err != nil {
		return nil, err
	}
	return GroupedFromPlan(p, factory, insert)
}

// GroupedFromPlan builds a grouped collector around an already compiled plan.
func GroupedFromPlan[Inner any](p *plan.Plan, factory Factory[Inner], insert Inserter[Inner]) (*Grouped[Inner], error) {
	if factory == nil || insert == nil {
		return nil, ErrNilCollaborator
	}
	if p.Groups == 0 {
		return nil, fmt.Errorf("%w: query defines no group levels, use a plain collector", ErrStrategy)
	}
	return &Grouped[Inner]{plan: p, factory: factory, insert: insert}, nil
}

// Plan returns the compiled plan backing this collector.
func (c *Grouped[Inner]) Plan() *plan.Plan {
	return c.plan
}

// Collect walks every record through the plan and returns the nested
// mapping. A key path exists in the result if and only if at least one
// record reached it; the factory ran exactly once per such path.
func (c *Grouped[Inner]) Collect(records iter.Seq[any]) (Grouping, error) {
	r := &run[Inner]{
		insert:   c.insert,
		factory:  c.factory,
		elements: vector.New(c.plan.Elements),
		groups:   vector.New(c.plan.Groups),
		result:   Grouping{},
	}
	for record := range records {
		if _, err := r.walk(c.plan.Root, record); err != nil {
			return nil, err
		}
	}
	return r.result, nil
}

// CollectSlice is Collect over an in-memory record slice.
func (c *Grouped[Inner]) CollectSlice(records []any) (Grouping, error) {
	return c.Collect(slices.Values(records))
}

// run is the scratch state of one Collect call: the positional vectors being
// assembled plus the inner container tuples currently flush into.
//
// Flushing follows the completion rule: a tuple is committed the moment the
// element vector fills up while a container is bound, and only the slot that
// completed the vector is cleared afterwards. Slots filled by earlier sibling
// branches keep their values, so a single iterating branch produces one flush
// per inner element against constant sibling values.
type run[Inner any] struct {
	insert   Inserter[Inner]
	factory  Factory[Inner]
	elements *vector.Partial
	groups   *vector.Partial // nil for plain runs
	result   Grouping        // nil for plain runs

	inner Inner
	bound bool
}

// walk applies node to value. The boolean reports acceptance: false means a
// filter rejected the current branch, which skips the fan-out siblings
// declared after it but neither the enclosing iteration nor the collect call.
func (r *run[Inner]) walk(node query.Node, value any) (bool, error) {
	switch n := node.(type) {
	case *query.Select:
		child, err := lookupKey(value, n.Key)
		if err != nil {
			return false, err
		}
		return r.walk(n.Child, child)

	case *query.ForEach:
		elements, err := sequence(value)
		if err != nil {
			return false, err
		}
		for _, element := range elements {
			// Rejections are absorbed: the next element starts fresh.
			if _, err := r.walk(n.Child, element); err != nil {
				return false, err
			}
		}
		return true, nil

	case *query.Fanout:
		for _, child := range n.Children {
			accepted, err := r.walk(child, value)
			if err != nil {
				return false, err
			}
			if !accepted {
				return false, nil
			}
		}
		return true, nil

	case *query.Element:
		if !query.Accept(n.Filters, value) {
			return false, nil
		}
		r.applyElement(n.Pos, value)
		return true, nil

	case *query.Group:
		key := value
		if n.Key != nil {
			key = n.Key(value)
		}
		if !query.Accept(n.Filters, key) {
			return false, nil
		}
		if key != nil && !reflect.TypeOf(key).Comparable() {
			return false, fmt.Errorf("%w: %T at level %d", ErrKeyNotComparable, key, n.Pos)
		}
		r.applyGroup(n.Pos, key)
		return true, nil

	case *query.Guard:
		return query.Accept(n.Filters, value), nil

	default:
		// The plan compiler rejects unknown variants.
		panic(fmt.Sprintf("collector: unknown node type %T", node))
	}
}

func (r *run[Inner]) applyElement(pos int, value any) {
	r.elements.Insert(pos, value)
	if r.elements.Complete() && r.bound {
		r.insert(r.inner, r.elements.Values()...)
		r.elements.Remove(pos)
	}
}

func (r *run[Inner]) applyGroup(pos int, key any) {
	r.groups.Insert(pos, key)
	if r.groups.Complete() {
		r.inner = r.container(r.groups.Values())
		r.bound = true
		r.groups.Remove(pos)
	}
}

// container resolves the inner container for a full key path, creating the
// intermediate levels and, on first visit, the container itself.
func (r *run[Inner]) container(keys []any) Inner {
	level := r.result
	for _, key := range keys[:len(keys)-1] {
		next, ok := level[key]
		if !ok {
			child := Grouping{}
			level[key] = child
			level = child
			continue
		}
		level = next.(Grouping)
	}

	last := keys[len(keys)-1]
	existing, ok := level[last]
	if !ok {
		inner := r.factory()
		level[last] = inner
		return inner
	}
	return existing.(Inner)
}

// lookupKey reads key from a mapping value. Typed cases cover JSON and YAML
// decoded data; other map kinds go through reflection.
func lookupKey(value, key any) (any, error) {
	switch m := value.(type) {
	case map[string]any:
		name, ok := key.(string)
		if !ok {
			return nil, fmt.Errorf("%w: key %v is not a string", ErrLookup, key)
		}
		child, ok := m[name]
		if !ok {
			return nil, fmt.Errorf("%w: key %q not found", ErrLookup, name)
		}
		return child, nil

	case map[any]any:
		child, ok := m[key]
		if !ok {
			return nil, fmt.Errorf("%w: key %v not found", ErrLookup, key)
		}
		return child, nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map {
		return nil, fmt.Errorf("%w: cannot select %v from %T", ErrTypeMismatch, key, value)
	}
	rk := reflect.ValueOf(key)
	if !rk.IsValid() || !rk.Type().AssignableTo(rv.Type().Key()) {
		return nil, fmt.Errorf("%w: key %v not found", ErrLookup, key)
	}
	child := rv.MapIndex(rk)
	if !child.IsValid() {
		return nil, fmt.Errorf("%w: key %v not found", ErrLookup, key)
	}
	return child.Interface(), nil
}

// sequence exposes value as an ordered sequence of elements.
func sequence(value any) (iter.Seq2[int, any], error) {
	if elements, ok := value.([]any); ok {
		return slices.All(elements), nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return func(yield func(int, any) bool) {
			for i := 0; i < rv.Len(); i++ {
				if !yield(i, rv.Index(i).Interface()) {
					return
				}
			}
		}, nil
	default:
		return nil, fmt.Errorf("%w: expected a sequence, got %T", ErrTypeMismatch, value)
	}
}
