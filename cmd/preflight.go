// cmd/preflight.go
package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/librus-sync/internal/observability"
	"github.com/xkilldash9x/librus-sync/internal/probe"
)

// ErrUnreachable is returned by preflight when any checked host failed.
var ErrUnreachable = errors.New("one or more hosts are unreachable")

func newPreflightCmd() *cobra.Command {
	preflightCmd := &cobra.Command{
		Use:          "preflight",
		Short:        "Check that the portal and API hosts answer from this network",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			urls, err := cmd.Flags().GetStringSlice("url")
			if err != nil {
				return err
			}
			if len(urls) == 0 {
				urls = cfg.Probes().Reachability
			}
			if len(urls) == 0 {
				return errors.New("no URLs to check: set probes.reachability or pass --url")
			}

			logger.Info("Running connectivity checks.", zap.Int("urls", len(urls)))
			results := probe.New(cfg, logger).CheckReachability(ctx, urls)

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Result", "URL", "Status", "Time"})
			table.SetBorder(false)
			failed := 0
			for _, r := range results {
				verdict, status := "OK", strconv.Itoa(r.Status)
				if !r.OK() {
					failed++
					verdict = "FAIL"
				}
				if !r.Reachable {
					status = r.Error
				}
				table.Append([]string{verdict, r.URL, status, r.Duration.Round(time.Millisecond).String()})
			}
			table.Render()

			if failed > 0 {
				return fmt.Errorf("%w: %d of %d", ErrUnreachable, failed, len(results))
			}
			return nil
		},
	}
	preflightCmd.Flags().StringSlice("url", nil, "URL to check instead of probes.reachability (repeatable)")
	return preflightCmd
}
