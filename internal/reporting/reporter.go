// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/librus-sync/internal/portal"
	"github.com/xkilldash9x/librus-sync/internal/probe"
)

// Document is one run's output: the workflow result plus the checks made
// with its artifacts afterwards.
type Document struct {
	portal.WorkflowResult
	Token       *probe.TokenInfo `json:"token,omitempty"`
	Probes      []probe.Result   `json:"probes,omitempty"`
	GeneratedBy string           `json:"generatedBy"`
}

// Redacted returns a copy whose session artifacts only reveal value lengths.
func (d Document) Redacted() Document {
	d.WorkflowResult = d.WorkflowResult.Redacted()
	return d
}

// Reporter writes run documents to an output.
type Reporter interface {
	Write(doc *Document) error
	// Close flushes the report and releases the output.
	Close() error
}

// Options tune the reporters built by New.
type Options struct {
	ToolVersion string
	// Redact replaces cookie and token values before anything is written.
	Redact bool
}

type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("json" or "html") writing to outputPath,
// or to stdout when the path is empty or "stdout". Files are created
// owner-only since unredacted output carries live session cookies.
func New(format, outputPath string, opts Options) (Reporter, error) {
	switch format {
	case "json", "html":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == "html" {
		return NewHTMLReporter(writer, opts), nil
	}
	return NewJSONReporter(writer, opts), nil
}

func prepare(doc *Document, opts Options) Document {
	out := *doc
	if out.GeneratedBy == "" {
		out.GeneratedBy = "librus-sync " + opts.ToolVersion
	}
	if opts.Redact {
		out = out.Redacted()
	}
	return out
}
