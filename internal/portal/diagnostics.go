// internal/portal/diagnostics.go
package portal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Diagnostics captures write-only visual evidence of the page. Nothing in
// the workflow reads what it produces.
type Diagnostics interface {
	Capture(ctx context.Context, page Page, label string) (string, error)
}

// NopDiagnostics discards every capture request.
type NopDiagnostics struct{}

func (NopDiagnostics) Capture(context.Context, Page, string) (string, error) { return "", nil }

var unsafeLabel = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// FileDiagnostics writes PNG screenshots into Dir, named after the run and
// a per-run sequence number so captures sort chronologically.
type FileDiagnostics struct {
	Dir    string
	RunID  string
	logger *zap.Logger
	seq    atomic.Int32
}

func NewFileDiagnostics(dir, runID string, logger *zap.Logger) *FileDiagnostics {
	return &FileDiagnostics{Dir: dir, RunID: runID, logger: logger.Named("diagnostics")}
}

func (d *FileDiagnostics) Capture(ctx context.Context, page Page, label string) (string, error) {
	png, err := page.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capture %s: %w", label, err)
	}
	if err := os.MkdirAll(d.Dir, 0o750); err != nil {
		return "", fmt.Errorf("create diagnostics dir: %w", err)
	}

	prefix := d.RunID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	name := fmt.Sprintf("%s-%02d-%s.png", prefix, d.seq.Add(1), strings.Trim(unsafeLabel.ReplaceAllString(label, "-"), "-"))
	path := filepath.Join(d.Dir, name)
	if err := os.WriteFile(path, png, 0o640); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	d.logger.Debug("Diagnostic snapshot written.", zap.String("path", path), zap.Int("bytes", len(png)))
	return path, nil
}

// capture is the best-effort wrapper used by the steps: failures are logged,
// never returned.
func capture(ctx context.Context, diag Diagnostics, page Page, label string, logger *zap.Logger) string {
	if diag == nil || page == nil {
		return ""
	}
	path, err := diag.Capture(ctx, page, label)
	if err != nil {
		logger.Debug("Diagnostic snapshot failed.", zap.String("label", label), zap.Error(err))
		return ""
	}
	return path
}
