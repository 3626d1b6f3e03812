// internal/reporting/json_reporter.go
package reporting

import (
	"errors"
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter writes each document as indented JSON. It is safe for
// concurrent use.
type JSONReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	opts   Options
	closed bool
}

func NewJSONReporter(writer io.WriteCloser, opts Options) *JSONReporter {
	return &JSONReporter{writer: writer, opts: opts}
}

func (r *JSONReporter) Write(doc *Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	out := prepare(doc, r.opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("reporter is closed")
	}

	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.writer.Close()
}
