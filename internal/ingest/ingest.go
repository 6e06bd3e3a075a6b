// Package ingest streams input records for the CLI.
//
// Two layouts are understood and auto-detected: a single top-level JSON array
// of records, and newline-delimited JSON with one record per line. Records
// decode into the generic map/slice shapes the collector traverses.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxRecordSize bounds a single NDJSON line.
	maxRecordSize = 16 * 1024 * 1024

	// warnInterval spaces out skipped-record warnings so a corrupt stream
	// does not flood stderr.
	warnInterval = time.Second
)

// Options configures record decoding.
type Options struct {
	// SkipInvalid downgrades malformed NDJSON lines from fatal errors to
	// warnings. It has no effect on array input, where one decoder consumes
	// the whole document.
	SkipInvalid bool

	// Warnf receives skipped-record warnings, rate limited to one per
	// second. A nil Warnf drops them.
	Warnf func(format string, args ...any)
}

// Records returns the record stream decoded from r. Iteration stops at the
// first fatal error, which is yielded with a nil record.
func Records(r io.Reader, opts Options) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		br := bufio.NewReader(r)

		first, err := firstByte(br)
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(nil, fmt.Errorf("read input: %w", err))
			return
		}

		if first == '[' {
			yieldArray(br, yield)
			return
		}
		yieldLines(br, opts, yield)
	}
}

// firstByte returns the first non-whitespace byte without consuming it.
func firstByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}

func yieldArray(br *bufio.Reader, yield func(any, error) bool) {
	decoder := json.NewDecoder(br)

	if _, err := decoder.Token(); err != nil {
		yield(nil, fmt.Errorf("decode array: %w", err))
		return
	}

	for decoder.More() {
		var record any
		if err := decoder.Decode(&record); err != nil {
			yield(nil, fmt.Errorf("decode array element: %w", err))
			return
		}
		if !yield(record, nil) {
			return
		}
	}

	if _, err := decoder.Token(); err != nil {
		yield(nil, fmt.Errorf("decode array: %w", err))
	}
}

func yieldLines(br *bufio.Reader, opts Options, yield func(any, error) bool) {
	warn := rate.Sometimes{Interval: warnInterval}

	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 || allBlank(data) {
			continue
		}

		var record any
		if err := json.Unmarshal(data, &record); err != nil {
			if !opts.SkipInvalid {
				yield(nil, fmt.Errorf("decode line %d: %w", line, err))
				return
			}
			if opts.Warnf != nil {
				warn.Do(func() {
					opts.Warnf("skipping invalid record at line %d: %v", line, err)
				})
			}
			continue
		}

		if !yield(record, nil) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		yield(nil, fmt.Errorf("read input: %w", err))
	}
}

func allBlank(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r':
		default:
			return false
		}
	}
	return true
}
