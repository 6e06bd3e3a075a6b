package run

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jacoelho/collect/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

const groupedQuery = `
branches:
  - at: success
    exclude:
      - in: [false]
  - at: orders
    for_each:
      branches:
        - at: shipmentStore
          group: 1
        - at: items
          for_each:
            branches:
              - at: id
                element: 1
              - at: quantity
                element: 2
`

const groupedData = `{"success": true, "orders": [{"shipmentStore": "north", "items": [{"id": 1, "quantity": 2}, {"id": 2, "quantity": 1}]}]}
{"success": false, "orders": [{"shipmentStore": "south", "items": [{"id": 3, "quantity": 7}]}]}
{"success": true, "orders": [{"shipmentStore": "south", "items": [{"id": 2, "quantity": 4}]}]}
`

func newRunner(t *testing.T, args []string) (*Runner, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	cfg, exitResult := config.Parse(args)
	if exitResult != nil {
		t.Fatalf("config.Parse() exit result = %+v", exitResult)
	}

	r, exitResult := New(cfg)
	if exitResult != nil {
		t.Fatalf("New() exit result = %+v", exitResult)
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	r.Stdout = stdout
	r.Stderr = stderr
	return r, stdout, stderr
}

func TestRunGrouped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	queryFile := writeFile(t, dir, "query.yaml", groupedQuery)
	dataFile := writeFile(t, dir, "data.ndjson", groupedData)

	r, stdout, stderr := newRunner(t, []string{"collect", queryFile, dataFile})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run() = %d, stderr: %s", code, stderr)
	}

	var got map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, stdout)
	}

	want := map[string]any{
		"north": []any{[]any{1.0, 2.0}, []any{2.0, 1.0}},
		"south": []any{[]any{2.0, 4.0}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("output = %v, want %v", got, want)
	}
}

func TestRunPlainSingleElement(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	queryFile := writeFile(t, dir, "query.yaml", "at: id\nelement: 1\n")
	dataFile := writeFile(t, dir, "data.ndjson", "{\"id\": 1}\n{\"id\": 2}\n")

	r, stdout, stderr := newRunner(t, []string{"collect", queryFile, dataFile})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run() = %d, stderr: %s", code, stderr)
	}

	// Single-element queries print bare values, not one-element arrays.
	if got := strings.TrimSpace(stdout.String()); got != "[1,2]" {
		t.Fatalf("output = %q, want [1,2]", got)
	}
}

func TestRunMultipleInputFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	queryFile := writeFile(t, dir, "query.yaml", "at: id\nelement: 1\n")
	first := writeFile(t, dir, "a.ndjson", "{\"id\": 1}\n")
	second := writeFile(t, dir, "b.json", "[{\"id\": 2}, {\"id\": 3}]")

	r, stdout, stderr := newRunner(t, []string{"collect", queryFile, first, second})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run() = %d, stderr: %s", code, stderr)
	}
	if got := strings.TrimSpace(stdout.String()); got != "[1,2,3]" {
		t.Fatalf("output = %q, want [1,2,3]", got)
	}
}

func TestRunSelectProjection(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	queryFile := writeFile(t, dir, "query.yaml", "at: id\nelement: 1\n")
	dataFile := writeFile(t, dir, "data.ndjson",
		"{\"payload\": {\"id\": 1}}\n{\"payload\": {\"id\": 2}}\n")

	r, stdout, stderr := newRunner(t, []string{"collect", "--select", "$.payload", queryFile, dataFile})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run() = %d, stderr: %s", code, stderr)
	}
	if got := strings.TrimSpace(stdout.String()); got != "[1,2]" {
		t.Fatalf("output = %q, want [1,2]", got)
	}
}

func TestRunPrettyOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	queryFile := writeFile(t, dir, "query.yaml", "at: id\nelement: 1\n")
	dataFile := writeFile(t, dir, "data.ndjson", "{\"id\": 1}\n")

	r, stdout, stderr := newRunner(t, []string{"collect", "--pretty", queryFile, dataFile})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run() = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout.String(), "\n  1") {
		t.Fatalf("output is not indented: %q", stdout.String())
	}
}

func TestRunSummary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	queryFile := writeFile(t, dir, "query.yaml", "at: id\nelement: 1\n")
	dataFile := writeFile(t, dir, "data.ndjson", "{\"id\": 1}\n{\"id\": 2}\n")

	r, _, stderr := newRunner(t, []string{"collect", "--summary", queryFile, dataFile})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run() = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stderr.String(), "2 records, 2 tuples, 1 containers") {
		t.Fatalf("summary missing or wrong: %q", stderr.String())
	}
}

func TestRunSkipInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	queryFile := writeFile(t, dir, "query.yaml", "at: id\nelement: 1\n")
	dataFile := writeFile(t, dir, "data.ndjson", "{\"id\": 1}\nnot json\n{\"id\": 2}\n")

	r, stdout, stderr := newRunner(t, []string{"collect", "--skip-invalid", queryFile, dataFile})

	if code := r.Run(context.Background()); code != 0 {
		t.Fatalf("Run() = %d, stderr: %s", code, stderr)
	}
	if got := strings.TrimSpace(stdout.String()); got != "[1,2]" {
		t.Fatalf("output = %q, want [1,2]", got)
	}
	if !strings.Contains(stderr.String(), "Warning:") {
		t.Fatalf("no warning for skipped record: %q", stderr.String())
	}
}

func TestRunFailsOnInvalidRecordByDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	queryFile := writeFile(t, dir, "query.yaml", "at: id\nelement: 1\n")
	dataFile := writeFile(t, dir, "data.ndjson", "{\"id\": 1}\nnot json\n")

	r, _, stderr := newRunner(t, []string{"collect", queryFile, dataFile})

	if code := r.Run(context.Background()); code != 1 {
		t.Fatalf("Run() = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "line 2") {
		t.Fatalf("error does not name the failing line: %q", stderr.String())
	}
}

func TestRunFailsOnMissingKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	queryFile := writeFile(t, dir, "query.yaml", "at: absent\nelement: 1\n")
	dataFile := writeFile(t, dir, "data.ndjson", "{\"id\": 1}\n")

	r, _, stderr := newRunner(t, []string{"collect", queryFile, dataFile})

	if code := r.Run(context.Background()); code != 1 {
		t.Fatalf("Run() = %d, want 1", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("no error reported on stderr")
	}
}

func TestRunCancelledContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	queryFile := writeFile(t, dir, "query.yaml", "at: id\nelement: 1\n")
	dataFile := writeFile(t, dir, "data.ndjson", "{\"id\": 1}\n")

	r, _, _ := newRunner(t, []string{"collect", queryFile, dataFile})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code := r.Run(ctx); code != 1 {
		t.Fatalf("Run() with cancelled context = %d, want 1", code)
	}
}

func TestNewRejectsBadQuery(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name     string
		document string
	}{
		{name: "invalid_yaml", document: "{"},
		{name: "no_capture", document: "at: orders\nthen:\n  at: id\n  group: 1\n"},
		{name: "duplicate_position", document: "branches:\n  - at: a\n    element: 1\n  - at: b\n    element: 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queryFile := writeFile(t, dir, tt.name+".yaml", tt.document)

			cfg, exitResult := config.Parse([]string{"collect", queryFile, "-"})
			if exitResult != nil {
				t.Fatalf("config.Parse() exit result = %+v", exitResult)
			}

			r, exitResult := New(cfg)
			if r != nil {
				t.Fatal("New() returned a runner for an invalid query")
			}
			if exitResult == nil || exitResult.ExitCode != 1 {
				t.Fatalf("New() exit result = %+v, want exit code 1", exitResult)
			}
		})
	}
}

func TestNewRejectsBadSelect(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	queryFile := writeFile(t, dir, "query.yaml", "element: 1\n")

	cfg, exitResult := config.Parse([]string{"collect", "--select", "not a path", queryFile, "-"})
	if exitResult != nil {
		t.Fatalf("config.Parse() exit result = %+v", exitResult)
	}

	r, exitResult := New(cfg)
	if r != nil {
		t.Fatal("New() returned a runner for an invalid projection")
	}
	if exitResult == nil || exitResult.ExitCode != 1 {
		t.Fatalf("New() exit result = %+v, want exit code 1", exitResult)
	}
}
