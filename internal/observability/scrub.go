// internal/observability/scrub.go
package observability

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// secretKeys are field keys whose string values never reach a sink as-is.
// Matching is case-insensitive on the whole key.
var secretKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"token":         true,
	"bearer":        true,
	"bearer_token":  true,
	"csrf":          true,
	"csrf_token":    true,
	"_token":        true,
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
}

// scrubCore rewrites string fields under secret keys with Secret before
// delegating. Fields already produced by Secret pass through unchanged.
type scrubCore struct {
	zapcore.Core
}

func scrub(c zapcore.Core) zapcore.Core { return scrubCore{c} }

func (s scrubCore) With(fields []zapcore.Field) zapcore.Core {
	return scrubCore{s.Core.With(scrubFields(fields))}
}

func (s scrubCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(e.Level) {
		return ce.AddCore(e, s)
	}
	return ce
}

func (s scrubCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	return s.Core.Write(e, scrubFields(fields))
}

func scrubFields(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		if f.Type != zapcore.StringType || !secretKeys[strings.ToLower(f.Key)] || isRedacted(f.String) {
			continue
		}
		if out == nil {
			out = append(make([]zapcore.Field, 0, len(fields)), fields...)
		}
		out[i] = Secret(f.Key, f.String)
	}
	if out == nil {
		return fields
	}
	return out
}

func isRedacted(v string) bool {
	return v == "<empty>" || strings.HasPrefix(v, "<redacted len=")
}
