// Package plan compiles a query tree into a validated, immutable plan.
//
// Validation needs the whole tree: element and group positions must each form
// a contiguous 1..N range tree-wide, and at most one branch of any fan-out may
// contain iteration. Compilation therefore runs two passes over the tree: the
// first flattens it into leaf and fan-out records, the second checks the
// collected records. No input data is touched and no partial plan is returned
// on failure.
package plan

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jacoelho/collect/internal/query"
)

// Violation kinds. Compile failures wrap exactly one of these, so callers
// can dispatch with errors.Is.
var (
	ErrMissingPosition        = errors.New("missing position")
	ErrDuplicatePosition      = errors.New("duplicate position")
	ErrInvalidPosition        = errors.New("invalid position")
	ErrInsufficientBranches   = errors.New("insufficient branches")
	ErrMultipleIterationPaths = errors.New("multiple iteration paths")
	ErrEmptyBranch            = errors.New("empty branch")
	ErrUnknownNode            = errors.New("unknown node type")
)

// Error reports a single invariant violation with the tree location that
// caused it. Path is rooted at "$"; fan-out children are addressed by index.
type Error struct {
	Kind   error
	Path   string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("compile: %v at %s: %s", e.Kind, e.Path, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Plan is a compiled query: the validated tree plus the element and group
// arities discovered during validation. A Plan is immutable after Compile
// and safe to share across goroutines; callers must not modify Root.
type Plan struct {
	Root     query.Node
	Elements int
	Groups   int
}

type leaf struct {
	pos  int
	path string
}

type fanout struct {
	path string
	// one entry per child, true when the child subtree contains a ForEach
	iterating []bool
}

type analysis struct {
	elements []leaf
	groups   []leaf
	fanouts  []fanout
}

// Compile validates root and returns its plan.
// The returned error, if any, is a *Error wrapping one of the violation
// kinds declared in this package.
func Compile(root query.Node) (*Plan, error) {
	if root == nil {
		return nil, &Error{Kind: ErrEmptyBranch, Path: "$", Detail: "query has no nodes"}
	}

	var a analysis
	if _, err := flatten(root, "$", &a); err != nil {
		return nil, err
	}

	for _, f := range a.fanouts {
		if err := checkIteration(f); err != nil {
			return nil, err
		}
	}

	elements, err := checkPositions(a.elements, "elements", true)
	if err != nil {
		return nil, err
	}
	groups, err := checkPositions(a.groups, "groups", false)
	if err != nil {
		return nil, err
	}

	return &Plan{Root: root, Elements: elements, Groups: groups}, nil
}

// flatten is pass one: it records every leaf position with its location,
// notes which fan-out children carry iteration, and rejects structurally
// broken nodes. It reports whether the subtree rooted at n contains a
// ForEach node.
func flatten(n query.Node, path string, a *analysis) (bool, *Error) {
	switch node := n.(type) {
	case *query.Select:
		if node.Child == nil {
			return false, &Error{Kind: ErrEmptyBranch, Path: path, Detail: fmt.Sprintf("select %v has no child", node.Key)}
		}
		return flatten(node.Child, path+fmt.Sprintf(".at(%v)", node.Key), a)

	case *query.ForEach:
		if node.Child == nil {
			return false, &Error{Kind: ErrEmptyBranch, Path: path, Detail: "for-each has no child"}
		}
		if _, err := flatten(node.Child, path+".each", a); err != nil {
			return false, err
		}
		return true, nil

	case *query.Fanout:
		if len(node.Children) < 2 {
			return false, &Error{
				Kind:   ErrInsufficientBranches,
				Path:   path,
				Detail: fmt.Sprintf("fan-out needs at least 2 branches, got %d", len(node.Children)),
			}
		}
		f := fanout{path: path, iterating: make([]bool, len(node.Children))}
		carries := false
		for i, child := range node.Children {
			if child == nil {
				return false, &Error{Kind: ErrEmptyBranch, Path: fmt.Sprintf("%s.branch[%d]", path, i), Detail: "branch has no nodes"}
			}
			childCarries, err := flatten(child, fmt.Sprintf("%s.branch[%d]", path, i), a)
			if err != nil {
				return false, err
			}
			f.iterating[i] = childCarries
			carries = carries || childCarries
		}
		a.fanouts = append(a.fanouts, f)
		return carries, nil

	case *query.Element:
		if node.Pos < 1 {
			return false, &Error{Kind: ErrInvalidPosition, Path: path, Detail: fmt.Sprintf("element position %d, positions start at 1", node.Pos)}
		}
		a.elements = append(a.elements, leaf{pos: node.Pos, path: path})
		return false, nil

	case *query.Group:
		if node.Pos < 1 {
			return false, &Error{Kind: ErrInvalidPosition, Path: path, Detail: fmt.Sprintf("group level %d, levels start at 1", node.Pos)}
		}
		a.groups = append(a.groups, leaf{pos: node.Pos, path: path})
		return false, nil

	case *query.Guard:
		return false, nil

	default:
		return false, &Error{Kind: ErrUnknownNode, Path: path, Detail: fmt.Sprintf("%T", n)}
	}
}

// checkIteration enforces that at most one child of a fan-out contains
// iteration. Two iterating siblings would mean two independent iteration
// paths sharing one traversal context.
func checkIteration(f fanout) *Error {
	first := -1
	for i, carries := range f.iterating {
		if !carries {
			continue
		}
		if first >= 0 {
			return &Error{
				Kind:   ErrMultipleIterationPaths,
				Path:   f.path,
				Detail: fmt.Sprintf("branches %d and %d both iterate", first, i),
			}
		}
		first = i
	}
	return nil
}

// checkPositions is pass two for one numbering space: positions must form
// the dense range 1..N without duplicates. Element numbering additionally
// requires N >= 1; a query that captures nothing has no output.
func checkPositions(leaves []leaf, space string, required bool) (int, *Error) {
	if len(leaves) == 0 {
		if required {
			return 0, &Error{
				Kind:   ErrMissingPosition,
				Path:   "$",
				Detail: fmt.Sprintf("in the %s: missing position 1, a query needs at least one element", space),
			}
		}
		return 0, nil
	}

	byPos := make(map[int]string, len(leaves))
	max := 0
	for _, l := range leaves {
		if previous, ok := byPos[l.pos]; ok {
			return 0, &Error{
				Kind:   ErrDuplicatePosition,
				Path:   l.path,
				Detail: fmt.Sprintf("in the %s: position %d already used at %s", space, l.pos, previous),
			}
		}
		byPos[l.pos] = l.path
		if l.pos > max {
			max = l.pos
		}
	}

	var missing []int
	for pos := 1; pos <= max; pos++ {
		if _, ok := byPos[pos]; !ok {
			missing = append(missing, pos)
		}
	}
	if len(missing) > 0 {
		return 0, &Error{
			Kind:   ErrMissingPosition,
			Path:   "$",
			Detail: fmt.Sprintf("in the %s: missing %s", space, formatPositions(missing)),
		}
	}

	return max, nil
}

func formatPositions(positions []int) string {
	slices.Sort(positions)
	parts := make([]string, len(positions))
	for i, pos := range positions {
		parts[i] = fmt.Sprintf("%d", pos)
	}
	noun := "position"
	if len(parts) > 1 {
		noun = "positions"
	}
	return fmt.Sprintf("%s %s", noun, strings.Join(parts, ", "))
}
