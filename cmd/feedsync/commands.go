package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/feedsync/internal/config"
	"github.com/kalambet/feedsync/internal/pipeline"
	"github.com/kalambet/feedsync/internal/report"
	"github.com/kalambet/feedsync/internal/storage"
)

// --- sync ---

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import the newest feed email into the spreadsheet",
		Long: `Import the newest feed email into the spreadsheet.

Exit status is 0 when the feed was committed, already processed or absent,
1 when extraction or the commit failed, and 2 for invalid configuration.

Examples:
  feedsync sync
  feedsync sync --dry-run --format json
  feedsync sync --since 2026-05-01 --sheet-id 1AbC...`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			sheetID, _ := cmd.Flags().GetString("sheet-id")
			sinceStr, _ := cmd.Flags().GetString("since")
			formatStr, _ := cmd.Flags().GetString("format")

			format, err := report.ParseFormat(formatStr)
			if err != nil {
				return &usageError{err: err}
			}
			var since time.Time
			if sinceStr != "" {
				since, err = time.Parse(time.DateOnly, sinceStr)
				if err != nil {
					return &usageError{err: fmt.Errorf("invalid --since %q: want YYYY-MM-DD", sinceStr)}
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForSync(sheetID, dryRun); err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)

			coord, err := newCoordinator(ctx, cfg, store)
			if err != nil {
				return err
			}

			if dryRun {
				printStep("Previewing feed (dry run)...")
			} else {
				printStep("Syncing feed...")
			}
			res, runErr := coord.Run(ctx, pipeline.Options{DryRun: dryRun, Since: since, SheetID: sheetID})
			view := report.FromResult(res, runErr)
			if err := report.WriteSync(cmd.OutOrStdout(), format, view); err != nil {
				return fmt.Errorf("writing report: %w", err)
			}
			printOutcome(view)

			if runErr != nil {
				return &exitError{code: exitFailure, err: runErr}
			}
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "compute the delta without writing anything")
	cmd.Flags().String("sheet-id", "", "override sheets.spreadsheet_id for this run")
	cmd.Flags().String("since", "", "only consider emails received on or after this date (YYYY-MM-DD)")
	cmd.Flags().String("format", "text", "output format: text or json")
	return cmd
}

// --- history ---

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded sync runs, newest first",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			status, _ := cmd.Flags().GetString("status")
			messageID, _ := cmd.Flags().GetString("message-id")
			formatStr, _ := cmd.Flags().GetString("format")

			format, err := report.ParseFormat(formatStr)
			if err != nil {
				return &usageError{err: err}
			}
			q := storage.HistoryQuery{Limit: limit, Status: storage.RunStatus(status), MessageID: messageID}
			if status != "" && !q.Status.Valid() {
				return &usageError{err: fmt.Errorf("invalid --status %q: want success, skipped_duplicate or failed", status)}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)

			recs, err := store.RunHistory(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("reading run history: %w", err)
			}
			return report.WriteHistory(cmd.OutOrStdout(), format, recs)
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of runs (0 for all)")
	cmd.Flags().String("status", "", "only runs with this status")
	cmd.Flags().String("message-id", "", "only runs for this email")
	cmd.Flags().String("format", "text", "output format: text or json")
	return cmd
}

// --- state ---

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the last committed snapshot",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatStr, _ := cmd.Flags().GetString("format")
			format, err := report.ParseFormat(formatStr)
			if err != nil {
				return &usageError{err: err}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)

			st, err := store.LoadState(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading state: %w", err)
			}
			return report.WriteState(cmd.OutOrStdout(), format, report.NewStateView(st))
		},
	}
	cmd.Flags().String("format", "text", "output format: text or json")
	return cmd
}

// --- config ---

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", config.ConfigFilePath())
			for _, k := range config.ShowAll(cfg) {
				fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
			}
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(2)(cmd, args); err != nil {
				return &usageError{err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			if err := config.SetKey(key, value); err != nil {
				return err
			}

			printSuccess("Set %s = %s", key, value)
			return nil
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return &usageError{err: err}
	}
	return nil
}
