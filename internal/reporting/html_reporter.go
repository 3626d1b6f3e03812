// internal/reporting/html_reporter.go
package reporting

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"sync"
	"time"

	"github.com/xkilldash9x/librus-sync/internal/portal"
)

// HTMLReporter renders documents into a single self-contained page on Close.
type HTMLReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	opts   Options
	docs   []Document
	closed bool
}

func NewHTMLReporter(writer io.WriteCloser, opts Options) *HTMLReporter {
	return &HTMLReporter{writer: writer, opts: opts}
}

func (r *HTMLReporter) Write(doc *Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("reporter is closed")
	}
	r.docs = append(r.docs, prepare(doc, r.opts))
	return nil
}

func (r *HTMLReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var buf bytes.Buffer
	renderErr := reportTemplate.Execute(&buf, r.docs)
	if renderErr == nil {
		_, renderErr = r.writer.Write(buf.Bytes())
	}
	if renderErr != nil {
		renderErr = fmt.Errorf("failed to render HTML report: %w", renderErr)
	}
	return errors.Join(renderErr, r.writer.Close())
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatTime": func(t time.Time) string { return t.Format("2006-01-02 15:04:05 MST") },
	"formatDuration": func(d time.Duration) string {
		return d.Round(time.Millisecond).String()
	},
	"status": func(s portal.StepOutcome) string {
		switch {
		case s.Skipped:
			return "skipped"
		case s.Success:
			return "ok"
		case s.Fatal:
			return "fatal"
		default:
			return "failed"
		}
	},
	"deref": func(n *int) int {
		if n == nil {
			return 0
		}
		return *n
	},
}).Parse(reportHTML))

const reportHTML = `<!DOCTYPE html>
<html lang="pl">
<head>
<meta charset="utf-8">
<title>Librus sync report</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; vertical-align: top; }
.ok { color: #17803d; } .fatal, .failed { color: #b42318; } .skipped { color: #777; }
.banner { padding: 0.6em 1em; border-radius: 4px; }
.banner.ok { background: #e7f6ec; } .banner.failed { background: #fdecea; }
</style>
</head>
<body>
{{range .}}
<section>
<h1>Run {{.RunID}}</h1>
<p class="banner {{if .Success}}ok{{else}}failed{{end}}">
{{if .Success}}Logged in{{if .Degraded}} (degraded){{end}}{{else}}Login failed{{if .Error}}: {{.Error}}{{end}}{{end}}
</p>
<p>Started {{formatTime .Timestamp}}, took {{formatDuration .Duration}}, final state <code>{{.FinalState}}</code>{{if .Browser}}, browser {{.Browser}}{{end}}.</p>
{{with .Warnings}}<h2>Warnings</h2><ul>{{range .}}<li>{{.}}</li>{{end}}</ul>{{end}}

<h2>Steps</h2>
<table>
<tr><th>Step</th><th>Status</th><th>URL</th><th>HTTP</th><th>Duration</th><th>Error</th></tr>
{{range .Steps}}<tr class="{{status .}}"><td>{{.Step}}</td><td>{{status .}}</td><td>{{.URL}}</td><td>{{if .Status}}{{.Status}}{{end}}</td><td>{{formatDuration .Duration}}</td><td>{{.Error}}</td></tr>
{{end}}</table>

<h2>Session</h2>
<table>
<tr><th>Cookies</th><td>{{range $i, $n := .Artifacts.CookieNames}}{{if $i}}, {{end}}{{$n}}{{end}}</td></tr>
<tr><th>CSRF token</th><td>{{if .Artifacts.CSRFToken}}present{{else}}missing{{end}}</td></tr>
<tr><th>Bearer token</th><td>{{if .Artifacts.BearerToken}}present{{else}}missing{{end}}{{with .Token}}{{if .JWT}}, JWT {{.Algorithm}}{{with .ExpiresAt}}, expires {{formatTime .}}{{end}}{{if .Expired}} (expired){{end}}{{end}}{{end}}</td></tr>
<tr><th>Accounts</th><td>{{range .Artifacts.Accounts}}{{.DisplayName}}{{if .RawID}} ({{.RawID}}){{end}}<br>{{else}}none{{end}}</td></tr>
</table>

{{with .Widget}}<h2>Widget</h2>
<p class="{{if .Loaded}}ok{{else}}failed{{end}}">{{if .Loaded}}Rendered{{else}}Not rendered{{end}}, markers: {{range $i, $m := .Markers}}{{if $i}}, {{end}}<code>{{$m}}</code>{{else}}none{{end}}</p>{{end}}

{{with .Probes}}<h2>API probes</h2>
<table>
<tr><th>Endpoint</th><th>HTTP</th><th>Items</th><th>Error</th></tr>
{{range .}}<tr class="{{if .OK}}ok{{else}}failed{{end}}"><td>{{.Endpoint}}</td><td>{{.Status}}</td><td>{{if .Items}}{{deref .Items}}{{end}}</td><td>{{.Error}}</td></tr>
{{end}}</table>{{end}}
<p><small>{{.GeneratedBy}}</small></p>
</section>
{{end}}
</body>
</html>
`
