package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/avramidis/strategem/internal/domain"
)

const (
	formatHuman = "human"
	formatJSON  = "json"
)

// partialError marks a command that completed with some failures: exit 1
// instead of the fatal 2.
type partialError struct {
	msg string
}

func (e *partialError) Error() string { return e.msg }

// exitCodeFor maps an error to the process exit code: 0 success, 1 for
// validation problems and partial completion, 2 for fatal faults including
// a held concurrency lock.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var partial *partialError
	if errors.As(err, &partial) {
		return 1
	}
	switch domain.KindOf(err) {
	case domain.InvalidInput, domain.NoData:
		return 1
	default:
		return 2
	}
}

// printJSON writes a payload to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errorPayload is the JSON error envelope.
type errorPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Trace   string `json:"trace,omitempty"`
}

// emitError prints the error in the requested format before the process
// exits with the mapped code.
func emitError(format string, err error) {
	if format == formatJSON {
		trace := ""
		if wrapped := errors.Unwrap(err); wrapped != nil {
			trace = wrapped.Error()
		}
		_ = printJSON(errorPayload{Success: false, Error: err.Error(), Trace: trace})
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

// printMetricsHuman renders a flat metric map sorted by key.
func printMetricsHuman(metrics map[string]float64) {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-28s %.4f\n", k, metrics[k])
	}
}
