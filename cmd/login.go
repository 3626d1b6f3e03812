// cmd/login.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/librus-sync/internal/config"
	"github.com/xkilldash9x/librus-sync/internal/observability"
	"github.com/xkilldash9x/librus-sync/internal/portal"
	"github.com/xkilldash9x/librus-sync/internal/probe"
	"github.com/xkilldash9x/librus-sync/internal/reporting"
)

// ErrLoginFailed is returned by the login command when the run ended
// without an authenticated session. The results are still written.
var ErrLoginFailed = errors.New("login did not succeed")

// openBrowser is swapped in tests.
var openBrowser = portal.ChromeOpener

func newLoginCmd() *cobra.Command {
	loginCmd := &cobra.Command{
		Use:          "login",
		Short:        "Run the portal login workflow and write the harvested session",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if err := applyLoginFlags(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.ValidateCredentials(); err != nil {
				return err
			}

			doc, err := runLogin(ctx, cfg, openBrowser(cfg, logger), logger)
			if err != nil {
				return err
			}

			out := cfg.Output()
			if err := writeDocument("json", out.ResultsPath, doc, out.RedactSecrets); err != nil {
				return err
			}
			if out.ReportPath != "" {
				if err := writeDocument("html", out.ReportPath, doc, out.RedactSecrets); err != nil {
					return err
				}
			}

			summary := cmd.OutOrStdout()
			if out.ResultsPath == "" || out.ResultsPath == "stdout" {
				summary = cmd.ErrOrStderr()
			}
			printSummary(summary, doc, out)
			if !doc.Success {
				return ErrLoginFailed
			}
			return nil
		},
	}

	flags := loginCmd.Flags()
	flags.Bool("headless", true, "Run Chrome without a window. (Overrides config/env)")
	flags.Bool("widget", false, "Verify the portal widget after login.")
	flags.Bool("probes", true, "Probe the JSON API with the harvested bearer token.")
	flags.StringP("output", "o", "", "Results JSON path, or 'stdout'. (Overrides config)")
	flags.String("report", "", "Also render an HTML report to this path.")
	flags.String("trace", "", "Record a HAR network trace to this path.")
	return loginCmd
}

// applyLoginFlags copies explicitly set flags over the loaded configuration.
func applyLoginFlags(cmd *cobra.Command, cfg config.Interface) error {
	flags := cmd.Flags()
	if flags.Changed("headless") {
		v, err := flags.GetBool("headless")
		if err != nil {
			return err
		}
		cfg.SetBrowserHeadless(v)
	}
	if flags.Changed("widget") {
		v, err := flags.GetBool("widget")
		if err != nil {
			return err
		}
		cfg.SetPortalWidgetCheck(v)
	}
	if flags.Changed("probes") {
		v, err := flags.GetBool("probes")
		if err != nil {
			return err
		}
		cfg.SetProbesEnabled(v)
	}
	for name, set := range map[string]func(string){
		"output": cfg.SetOutputResultsPath,
		"report": cfg.SetOutputReportPath,
		"trace":  cfg.SetOutputTracePath,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		set(v)
	}
	return nil
}

// runLogin executes one workflow run and, when it produced a bearer token,
// inspects the token and probes the JSON API with it.
func runLogin(ctx context.Context, cfg config.Interface, open portal.Opener, logger *zap.Logger) (*reporting.Document, error) {
	runID := uuid.NewString()
	opts := []portal.Option{portal.WithRunID(runID)}
	if cfg.Portal().Diagnostics {
		opts = append(opts, portal.WithDiagnostics(portal.NewFileDiagnostics(cfg.Output().DiagnosticsDir, runID, logger)))
	}

	wf, err := portal.NewWorkflow(cfg, open, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow: %w", err)
	}

	doc := &reporting.Document{WorkflowResult: wf.Run(ctx)}

	token := doc.Artifacts.BearerToken
	if token == "" {
		return doc, nil
	}
	info := probe.InspectToken(token, time.Now())
	doc.Token = &info
	if info.Expired {
		logger.Warn("Harvested bearer token is already expired.", zap.Timep("expires_at", info.ExpiresAt))
	}

	if cfg.Probes().Enabled && doc.Success && ctx.Err() == nil {
		results, err := probe.New(cfg, logger).Run(ctx, token)
		if err != nil {
			logger.Warn("API probes did not run.", zap.Error(err))
		}
		doc.Probes = results
	}
	return doc, nil
}

func writeDocument(format, path string, doc *reporting.Document, redact bool) error {
	r, err := reporting.New(format, path, reporting.Options{ToolVersion: Version, Redact: redact})
	if err != nil {
		return err
	}
	if err := r.Write(doc); err != nil {
		_ = r.Close()
		return fmt.Errorf("failed to write %s results: %w", format, err)
	}
	return r.Close()
}

func printSummary(w io.Writer, doc *reporting.Document, out config.OutputConfig) {
	status := "FAILED"
	switch {
	case doc.Success && doc.Degraded:
		status = "OK (degraded)"
	case doc.Success:
		status = "OK"
	}

	fmt.Fprintf(w, "\nLogin %s. Run ID: %s (%s)\n", status, doc.RunID, doc.Duration.Round(time.Millisecond))
	if doc.Error != "" {
		fmt.Fprintf(w, "  error:    %s\n", doc.Error)
	}
	fmt.Fprintf(w, "  cookies:  %d\n", len(doc.Artifacts.Cookies))
	fmt.Fprintf(w, "  accounts: %d\n", len(doc.Artifacts.Accounts))
	for _, warning := range doc.Warnings {
		fmt.Fprintf(w, "  warning:  %s\n", warning)
	}
	for _, p := range doc.Probes {
		fmt.Fprintf(w, "  probe %-12s %d\n", p.Endpoint, p.Status)
	}
	if out.ResultsPath != "" && out.ResultsPath != "stdout" {
		fmt.Fprintf(w, "Results written to %s\n", out.ResultsPath)
	}
	if out.ReportPath != "" {
		fmt.Fprintf(w, "Report written to %s\n", out.ReportPath)
	}
}
