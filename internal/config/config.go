// Package config parses command-line arguments for the collect tool.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/jacoelho/collect/internal/exit"
)

var (
	ErrNoArguments = errors.New("no arguments provided")
	ErrNoQueryFile = errors.New("no query file specified")
)

// Config represents the complete configuration for the collect tool.
type Config struct {
	// QueryFile is the YAML query document.
	QueryFile string
	// InputFiles are JSON or NDJSON record sources; "-" reads stdin.
	InputFiles []string

	// Select projects each input record through a JSONPath expression
	// before collection; every selected value becomes one record.
	Select string

	Pretty      bool // indent JSON output
	Summary     bool // print a run summary to stderr
	SkipInvalid bool // skip malformed NDJSON records instead of failing
}

// Parse parses command-line arguments and returns a validated Config.
// If parsing fails or help is requested, returns nil config and exit result.
func Parse(args []string) (*Config, *exit.Result) {
	if len(args) == 0 {
		return nil, exit.Usagef("Error: %v\n\n%s", ErrNoArguments, Usage())
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)

	// Suppress the default usage and error output since we handle both ourselves.
	fs.Usage = func() {}
	fs.SetOutput(io.Discard)

	var (
		selectPath  = fs.String("select", "", "JSONPath projection applied to every input record")
		pretty      = fs.Bool("pretty", false, "Indent JSON output")
		summary     = fs.Bool("summary", false, "Print a run summary to stderr")
		skipInvalid = fs.Bool("skip-invalid", false, "Skip malformed NDJSON records instead of failing")
	)

	if err := fs.Parse(args[1:]); err != nil {
		if err == flag.ErrHelp {
			return nil, exit.Success(Usage())
		}
		return nil, exit.Usagef("Error: failed to parse arguments: %v\n\n%s", err, Usage())
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return nil, exit.Usagef("Error: %v\n\n%s", ErrNoQueryFile, Usage())
	}

	inputs := rest[1:]
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}

	config := &Config{
		QueryFile:   rest[0],
		InputFiles:  inputs,
		Select:      *selectPath,
		Pretty:      *pretty,
		Summary:     *summary,
		SkipInvalid: *skipInvalid,
	}

	if err := config.Validate(); err != nil {
		return nil, exit.Usagef("Error: %v\n\n%s", err, Usage())
	}

	return config, nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if _, err := os.Stat(c.QueryFile); err != nil {
		return fmt.Errorf("query file %s not found: %w", c.QueryFile, err)
	}

	for _, file := range c.InputFiles {
		if file == "-" {
			continue
		}
		if _, err := os.Stat(file); err != nil {
			return fmt.Errorf("input file %s not found: %w", file, err)
		}
	}

	return nil
}

// Usage returns a usage string for the CLI tool.
func Usage() string {
	return `collect - run collection queries over JSON data

Usage: collect [options] <query.yaml> [data.json|data.ndjson|-] ...

Input files may be JSON arrays or newline-delimited JSON; "-" reads stdin.
With no input files, records are read from stdin.

Options:
  --select EXPR    JSONPath projection applied to every input record;
                   each selected value becomes one record
  --pretty         Indent JSON output
  --summary        Print a run summary to stderr
  --skip-invalid   Skip malformed NDJSON records instead of failing
  -h, --help       Show this help message

Examples:
  collect query.yaml orders.ndjson            # Collect from a file
  cat orders.ndjson | collect query.yaml      # Collect from stdin
  collect --select '$.payload' query.yaml -   # Unwrap an envelope first
  collect --pretty --summary query.yaml data.json`
}
