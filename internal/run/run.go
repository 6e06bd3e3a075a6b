// Package run wires the CLI together: it loads and compiles the query,
// streams records from the input files, drives a collector, and prints the
// result as JSON.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/google/uuid"
	"github.com/theory/jsonpath"

	"github.com/jacoelho/collect/internal/collector"
	"github.com/jacoelho/collect/internal/config"
	"github.com/jacoelho/collect/internal/exit"
	"github.com/jacoelho/collect/internal/ingest"
	"github.com/jacoelho/collect/internal/parser"
	"github.com/jacoelho/collect/internal/plan"
)

// Runner executes one collection run.
type Runner struct {
	cfg        *config.Config
	plan       *plan.Plan
	projection *jsonpath.Path

	Stdout io.Writer
	Stderr io.Writer
}

// New loads the query document, compiles it, and prepares the optional
// JSONPath projection. Configuration mistakes surface here, before any data
// is read.
func New(cfg *config.Config) (*Runner, *exit.Result) {
	file, err := os.Open(cfg.QueryFile)
	if err != nil {
		return nil, exit.Errorf("Error: cannot open query file: %v\n", err)
	}
	defer file.Close()

	root, err := parser.Parse(file)
	if err != nil {
		return nil, exit.Errorf("Error: %s: %v\n", cfg.QueryFile, err)
	}

	compiled, err := plan.Compile(root)
	if err != nil {
		return nil, exit.Errorf("Error: %s: %v\n", cfg.QueryFile, err)
	}

	var projection *jsonpath.Path
	if cfg.Select != "" {
		projection, err = jsonpath.Parse(cfg.Select)
		if err != nil {
			return nil, exit.Errorf("Error: invalid -select expression %q: %v\n", cfg.Select, err)
		}
	}

	return &Runner{
		cfg:        cfg,
		plan:       compiled,
		projection: projection,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}, nil
}

// tuples is the inner container used by the CLI: a list that the inserter
// appends each accepted tuple to. Single-element queries append the bare
// value, wider queries a positional array.
type tuples []any

type stats struct {
	records    int
	tuples     int
	containers int
}

// Run collects all input records and prints the result. It returns the
// process exit code.
func (r *Runner) Run(ctx context.Context) int {
	var s stats

	factory := func() *tuples {
		s.containers++
		return new(tuples)
	}
	insert := func(inner *tuples, values ...any) {
		s.tuples++
		if len(values) == 1 {
			*inner = append(*inner, values[0])
			return
		}
		*inner = append(*inner, []any(values))
	}

	records, ingestErr := r.records(ctx, &s)

	var output any
	var collectErr error
	if r.plan.Groups == 0 {
		c, err := collector.PlainFromPlan(r.plan, factory, insert)
		if err != nil {
			fmt.Fprintf(r.Stderr, "Error: %v\n", err)
			return 1
		}
		result, err := c.Collect(records)
		output, collectErr = result, err
	} else {
		c, err := collector.GroupedFromPlan(r.plan, factory, insert)
		if err != nil {
			fmt.Fprintf(r.Stderr, "Error: %v\n", err)
			return 1
		}
		result, err := c.Collect(records)
		output, collectErr = result, err
	}

	if collectErr != nil {
		fmt.Fprintf(r.Stderr, "Error: %v\n", collectErr)
		return 1
	}
	if err := *ingestErr; err != nil {
		fmt.Fprintf(r.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := r.print(output); err != nil {
		fmt.Fprintf(r.Stderr, "Error: %v\n", err)
		return 1
	}

	if r.cfg.Summary {
		fmt.Fprintf(r.Stderr, "run %s: %d records, %d tuples, %d containers\n",
			uuid.NewString(), s.records, s.tuples, s.containers)
	}

	return 0
}

// records streams every input file in order, applying the optional JSONPath
// projection. Fatal stream errors land in the returned error slot; the
// collector only sees decoded records.
func (r *Runner) records(ctx context.Context, s *stats) (iter.Seq[any], *error) {
	failure := new(error)

	warnf := func(format string, args ...any) {
		fmt.Fprintf(r.Stderr, "Warning: "+format+"\n", args...)
	}
	opts := ingest.Options{SkipInvalid: r.cfg.SkipInvalid, Warnf: warnf}

	seq := func(yield func(any) bool) {
		for _, name := range r.cfg.InputFiles {
			source, err := r.open(name)
			if err != nil {
				*failure = err
				return
			}

			for record, err := range ingest.Records(source, opts) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					*failure = ctxErr
					source.Close()
					return
				}
				if err != nil {
					*failure = fmt.Errorf("%s: %w", name, err)
					source.Close()
					return
				}
				for _, projected := range r.project(record) {
					s.records++
					if !yield(projected) {
						source.Close()
						return
					}
				}
			}
			source.Close()
		}
	}

	return seq, failure
}

func (r *Runner) open(name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	file, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("cannot open input: %w", err)
	}
	return file, nil
}

func (r *Runner) project(record any) []any {
	if r.projection == nil {
		return []any{record}
	}
	return r.projection.Select(record)
}

func (r *Runner) print(output any) error {
	var (
		data []byte
		err  error
	)
	if r.cfg.Pretty {
		data, err = json.MarshalIndent(jsonReady(output), "", "  ")
	} else {
		data, err = json.Marshal(jsonReady(output))
	}
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if _, err := r.Stdout.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// jsonReady rewrites grouped results into encodable shapes: grouping keys
// become strings, inner tuple lists become plain arrays.
func jsonReady(v any) any {
	switch value := v.(type) {
	case collector.Grouping:
		out := make(map[string]any, len(value))
		for key, child := range value {
			out[fmt.Sprintf("%v", key)] = jsonReady(child)
		}
		return out
	case *tuples:
		return []any(*value)
	default:
		return v
	}
}
