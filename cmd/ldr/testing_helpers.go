package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/carved4/go-ldr/pkg/pe/petest"
)

// writeLibrary writes a synthetic library into dir and returns its path
func writeLibrary(t *testing.T, dir, name string, build func(b *petest.Builder)) string {
	t.Helper()
	b := petest.New()
	if build != nil {
		build(b)
	}
	path, err := b.WriteFile(dir, name)
	if err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// withFlags sets the global flags for one test and restores them afterwards
func withFlags(t *testing.T, asJSON bool, search ...string) {
	t.Helper()
	oldJSON, oldSearch, oldQuiet := jsonOut, searchPaths, quiet
	jsonOut, searchPaths, quiet = asJSON, search, false
	t.Cleanup(func() {
		jsonOut, searchPaths, quiet = oldJSON, oldSearch, oldQuiet
	})
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	return buf.String(), fnErr
}

// assertJSON checks that output is valid JSON
func assertJSON(t *testing.T, output string) {
	t.Helper()
	var result interface{}
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Errorf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}
