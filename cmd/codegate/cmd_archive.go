package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/archive"
	"github.com/rhuss/codegate/pkg/debug"
)

func newArchiveCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect the execution archive",
		Long: `Archive reads the execution records written after every approved run.
Only the sqlite and postgres archives outlive the server process.`,
	}
	cmd.AddCommand(newArchiveListCommand(global))
	cmd.AddCommand(newArchiveShowCommand(global))
	return cmd
}

// openPersistentArchive opens the configured archive, refusing the ones
// that would always be empty in a fresh process.
func openPersistentArchive(cmd *cobra.Command, global *globalOptions) (archive.Archive, error) {
	cfg, err := global.load()
	if err != nil {
		return nil, err
	}
	switch cfg.Archive.Type {
	case "memory", "none":
		return nil, fmt.Errorf("archive type %q is not persistent; configure sqlite or postgres", cfg.Archive.Type)
	}
	return buildArchive(cmd.Context(), cfg)
}

func newArchiveListCommand(global *globalOptions) *cobra.Command {
	var opts archive.ListOptions
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPersistentArchive(cmd, global)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "Only list executions of this session")
	cmd.Flags().StringVar(&opts.After, "after", "", "Continue after this execution ID")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum number of records (max 100)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func newArchiveShowCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Print one archived execution as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPersistentArchive(cmd, global)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(cmd.Context(), args[0])
			if errors.Is(err, archive.ErrNotFound) {
				return fmt.Errorf("execution %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func printRecords(out io.Writer, records []*archive.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, labelStyle.Render("No executions archived."))
		return
	}
	for _, rec := range records {
		kind := "unknown"
		if rec.Outcome != nil {
			kind = string(rec.Outcome.Kind)
		}
		elapsed := ""
		if rec.Metrics != nil {
			elapsed = fmt.Sprintf("%.2fs", rec.Metrics.ElapsedSeconds)
		}
		fmt.Fprintf(out, "%s  %s  %s %s %s\n",
			headerStyle.Render(rec.ExecutionID),
			labelStyle.Render(rec.CreatedAt.Local().Format("2006-01-02 15:04:05")),
			outcomeStyle(kind).Render(kind),
			elapsed,
			labelStyle.Render("session "+rec.SessionID),
		)
		fmt.Fprintln(out, "  "+debug.Truncate(firstLine(rec.Code), 72))
	}
}

func outcomeStyle(kind string) lipgloss.Style {
	switch api.OutcomeKind(kind) {
	case api.OutcomeSuccess:
		return okStyle
	case api.OutcomeTimeout:
		return warnStyle
	}
	return errorStyle
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
