// Package parser builds query trees from declarative YAML documents.
//
// A document mirrors the node grammar. Each mapping plays exactly one
// structural role (descend, iterate, fan out, capture, or guard), optionally
// entered through an "at" key:
//
//	at: orders
//	then:
//	  for_each:
//	    branches:
//	      - at: shipmentStore
//	        group: 1
//	      - at: items
//	        for_each:
//	          branches:
//	            - at: quantity
//	              element: 2
//	            - at: offer
//	              then:
//	                at: name
//	                element: 1
//	                exclude:
//	                  - in: [giftwrap]
//
// Filters are declarative: either a membership list ("in") or an operator
// expression ("op"/"value") compiled through internal/predicate. Parsing only
// constructs the tree; numbering and shape invariants are checked by
// internal/plan.
package parser

import (
	"fmt"
	"io"
	"strings"

	yaml "github.com/goccy/go-yaml"

	"github.com/jacoelho/collect/internal/number"
	"github.com/jacoelho/collect/internal/predicate"
	"github.com/jacoelho/collect/internal/query"
)

// ErrParser is the sentinel error for all parser-related failures.
// It allows error wrapping and consistent error checks using errors.Is().
var ErrParser = fmt.Errorf("parser error")

// nodeDoc is the YAML shape of one query node.
type nodeDoc struct {
	At       *string     `yaml:"at,omitempty"`       // descend into this key first
	Then     *nodeDoc    `yaml:"then,omitempty"`     // continuation after at
	ForEach  *nodeDoc    `yaml:"for_each,omitempty"` // iterate a sequence
	Branches []nodeDoc   `yaml:"branches,omitempty"` // fan out over the same value
	Element  *int        `yaml:"element,omitempty"`  // capture as output position
	Group    *int        `yaml:"group,omitempty"`    // capture as grouping level
	As       string      `yaml:"as,omitempty"`       // group key transform
	Include  []filterDoc `yaml:"include,omitempty"`  // filters admitting values
	Exclude  []filterDoc `yaml:"exclude,omitempty"`  // filters rejecting values
}

// filterDoc is one declarative filter: a membership list or an operator
// expression, never both.
type filterDoc struct {
	In    []any  `yaml:"in,omitempty"`
	Op    string `yaml:"op,omitempty"`
	Value *any   `yaml:"value,omitempty"`
}

// Parse decodes one YAML query document into a query tree.
func Parse(r io.Reader) (query.Node, error) {
	var doc nodeDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to decode YAML: %v", ErrParser, err)
	}

	b := &builder{evaluator: predicate.NewEvaluator()}
	return b.node(&doc, "$")
}

// ParseString is Parse over an in-memory document.
func ParseString(document string) (query.Node, error) {
	return Parse(strings.NewReader(document))
}

type builder struct {
	evaluator *predicate.Evaluator
}

func (b *builder) node(doc *nodeDoc, path string) (query.Node, error) {
	if doc.Then != nil && doc.At == nil {
		return nil, fmt.Errorf("%w: %s: 'then' requires 'at'", ErrParser, path)
	}

	inner, err := b.body(doc, path)
	if err != nil {
		return nil, err
	}

	if doc.At != nil {
		return &query.Select{Key: *doc.At, Child: inner}, nil
	}
	return inner, nil
}

// body interprets the structural role of doc, ignoring its "at" wrapper.
func (b *builder) body(doc *nodeDoc, path string) (query.Node, error) {
	roles := 0
	for _, present := range []bool{
		doc.Then != nil,
		doc.ForEach != nil,
		len(doc.Branches) > 0,
		doc.Element != nil,
		doc.Group != nil,
	} {
		if present {
			roles++
		}
	}
	if roles > 1 {
		return nil, fmt.Errorf("%w: %s: node must play a single role out of then, for_each, branches, element, group", ErrParser, path)
	}

	filters, err := b.filters(doc, path)
	if err != nil {
		return nil, err
	}

	switch {
	case doc.Then != nil:
		if len(filters) > 0 {
			return nil, fmt.Errorf("%w: %s: filters apply to element, group, or stand-alone nodes only", ErrParser, path)
		}
		return b.node(doc.Then, path+".then")

	case doc.ForEach != nil:
		if len(filters) > 0 {
			return nil, fmt.Errorf("%w: %s: filters apply to element, group, or stand-alone nodes only", ErrParser, path)
		}
		child, err := b.node(doc.ForEach, path+".each")
		if err != nil {
			return nil, err
		}
		return &query.ForEach{Child: child}, nil

	case len(doc.Branches) > 0:
		if len(filters) > 0 {
			return nil, fmt.Errorf("%w: %s: filters apply to element, group, or stand-alone nodes only", ErrParser, path)
		}
		children := make([]query.Node, len(doc.Branches))
		for i := range doc.Branches {
			child, err := b.node(&doc.Branches[i], fmt.Sprintf("%s.branch[%d]", path, i))
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		return &query.Fanout{Children: children}, nil

	case doc.Element != nil:
		if doc.As != "" {
			return nil, fmt.Errorf("%w: %s: 'as' applies to groups only", ErrParser, path)
		}
		return &query.Element{Pos: *doc.Element, Filters: filters}, nil

	case doc.Group != nil:
		transform, err := keyTransform(doc.As, path)
		if err != nil {
			return nil, err
		}
		return &query.Group{Pos: *doc.Group, Key: transform, Filters: filters}, nil

	default:
		if len(filters) == 0 {
			return nil, fmt.Errorf("%w: %s: node needs one of then, for_each, branches, element, group, include, exclude", ErrParser, path)
		}
		return &query.Guard{Filters: filters}, nil
	}
}

// filters compiles the include list followed by the exclude list.
func (b *builder) filters(doc *nodeDoc, path string) ([]query.Filter, error) {
	var filters []query.Filter

	for i, f := range doc.Include {
		test, err := b.test(f, fmt.Sprintf("%s.include[%d]", path, i))
		if err != nil {
			return nil, err
		}
		filters = append(filters, query.Include(test))
	}

	for i, f := range doc.Exclude {
		test, err := b.test(f, fmt.Sprintf("%s.exclude[%d]", path, i))
		if err != nil {
			return nil, err
		}
		filters = append(filters, query.Exclude(test))
	}

	return filters, nil
}

func (b *builder) test(f filterDoc, path string) (query.TestFunc, error) {
	if len(f.In) > 0 {
		if f.Op != "" || f.Value != nil {
			return nil, fmt.Errorf("%w: %s: filter takes either 'in' or 'op'/'value'", ErrParser, path)
		}
		return query.In(f.In...), nil
	}

	if f.Op == "" {
		return nil, fmt.Errorf("%w: %s: filter needs 'in' or 'op'", ErrParser, path)
	}

	op, err := predicate.ParseOperator(f.Op)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParser, path, err)
	}

	expr := predicate.Expr{Op: op, HasValue: f.Value != nil}
	if f.Value != nil {
		expr.Value = *f.Value
	}
	if err := predicate.ValidateExpr(expr); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParser, path, err)
	}

	return query.TestFunc(b.evaluator.TestFunc(expr)), nil
}

// keyTransform maps the "as" field onto a group key adapter.
func keyTransform(as string, path string) (query.KeyFunc, error) {
	switch as {
	case "":
		return nil, nil
	case "string":
		return func(v any) any {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprintf("%v", v)
		}, nil
	case "number":
		return func(v any) any {
			if f, ok := number.ToFloat64(v); ok {
				return f
			}
			return v
		}, nil
	case "lower":
		return func(v any) any {
			if s, ok := v.(string); ok {
				return strings.ToLower(s)
			}
			return v
		}, nil
	case "upper":
		return func(v any) any {
			if s, ok := v.(string); ok {
				return strings.ToUpper(s)
			}
			return v
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s: unsupported key transform %q (want string, number, lower, upper)", ErrParser, path, as)
	}
}
