// Package vector provides a fixed-arity positional argument vector.
//
// A Partial accumulates values destined for a positional call, one slot per
// position. The executor fills slots as leaves accept values and flushes a
// tuple whenever the vector becomes complete. After a flush only the slot
// that completed the vector is cleared; the remaining slots keep their values
// until overwritten, which is what holds sibling branch values constant while
// an iterating branch produces inner elements.
package vector

import (
	"fmt"
	"slices"
)

// Partial is a positional slot vector of fixed arity.
// Positions are 1-based; position validity is the caller's responsibility
// (query positions are checked at compile time), so out-of-range positions
// panic instead of returning an error.
type Partial struct {
	slots   []any
	filled  []bool
	missing int
}

// New returns an empty Partial with n slots. n must be positive.
func New(n int) *Partial {
	if n < 1 {
		panic(fmt.Sprintf("vector: arity must be positive, got %d", n))
	}
	return &Partial{
		slots:   make([]any, n),
		filled:  make([]bool, n),
		missing: n,
	}
}

// Len returns the arity of the vector.
func (p *Partial) Len() int {
	return len(p.slots)
}

// Insert stores v at pos. Inserting into an occupied slot overwrites it.
func (p *Partial) Insert(pos int, v any) {
	i := p.index(pos)
	if !p.filled[i] {
		p.filled[i] = true
		p.missing--
	}
	p.slots[i] = v
}

// Remove clears the slot at pos. Removing an empty slot is a no-op.
func (p *Partial) Remove(pos int) {
	i := p.index(pos)
	if p.filled[i] {
		p.filled[i] = false
		p.missing++
	}
	p.slots[i] = nil
}

// Complete reports whether every slot holds a value.
func (p *Partial) Complete() bool {
	return p.missing == 0
}

// Missing returns the number of empty slots.
func (p *Partial) Missing() int {
	return p.missing
}

// Values returns the slot values in position order.
// The vector must be complete.
func (p *Partial) Values() []any {
	if p.missing != 0 {
		panic(fmt.Sprintf("vector: %d slots still missing", p.missing))
	}
	return slices.Clone(p.slots)
}

func (p *Partial) index(pos int) int {
	if pos < 1 || pos > len(p.slots) {
		panic(fmt.Sprintf("vector: position %d out of range [1, %d]", pos, len(p.slots)))
	}
	return pos - 1
}
