package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bobmcallan/quant-portal/internal/app"
	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/history"
	"github.com/bobmcallan/quant-portal/internal/interfaces"
	"github.com/bobmcallan/quant-portal/internal/models"
	"github.com/bobmcallan/quant-portal/internal/storage"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and maintain the stored report history",
		Long: `Work with the report history directly in storage, without starting
the server. Do not run these against a badger store the server has open.`,
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, opts, func(store *history.Store) error {
				return writeHistoryList(cmd.OutOrStdout(), store, asJSON)
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print summaries as JSON")

	var keepDuplicates bool
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import reports from a JSON history export",
		Long: `Import reports from a JSON array of {id, symbol, timestamp, analysisData}
records, the format "history export" writes. Imported reports get fresh ids.
Reports already present (same symbol and timestamp) are skipped unless
--keep-duplicates is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readHistoryFile(args[0])
			if err != nil {
				return err
			}
			return withHistory(cmd, opts, func(store *history.Store) error {
				added, skipped, err := importRecords(cmd.Context(), store, records, !keepDuplicates)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d reports (%d skipped), history now holds %d\n", added, skipped, store.Len())
				return nil
			})
		},
	}
	importCmd.Flags().BoolVar(&keepDuplicates, "keep-duplicates", false, "Import reports even when an identical one exists")

	export := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the full history as JSON (stdout when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, opts, func(store *history.Store) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					f, err := os.Create(args[0])
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", args[0], err)
					}
					defer f.Close()
					out = f
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(store.AllRecords())
			})
		},
	}

	cmd.AddCommand(list, importCmd, export)
	return cmd
}

// withHistory opens storage, loads the history and runs fn against it.
func withHistory(cmd *cobra.Command, opts *cliOptions, fn func(*history.Store) error) error {
	cfg, err := loadConfig(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	logger := common.NewLoggerFromConfig(cfg.Logging.ToCommon())

	mgr, err := storage.NewStorageManager(logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}
	defer mgr.Close()

	store := app.NewHistory(mgr.KeyValueStorage(), logger, &cfg.History, nil)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store.Initialize(ctx)

	return fn(store)
}

func writeHistoryList(w io.Writer, store interfaces.ReportHistory, asJSON bool) error {
	records := store.AllRecords()
	selected := store.SelectedID()

	summaries := make([]models.ReportSummary, len(records))
	for i, r := range records {
		summaries[i] = models.Summarize(r, r.ID == selected)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(w, "no reports stored")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSYMBOL\tTIMESTAMP\tSIGNAL\tSENTIMENT")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Symbol, s.Timestamp, dash(s.LiveSignal), dash(s.Sentiment))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func readHistoryFile(path string) ([]models.ReportRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var records []models.ReportRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%s is not a report history export: %w", path, err)
	}
	return records, nil
}

// importRecords adds records in reverse file order. Exports are newest first,
// so the newest import ends up selected. Records without a symbol or payload are skipped.
func importRecords(ctx context.Context, store *history.Store, records []models.ReportRecord, skipExisting bool) (added, skipped int, err error) {
	existing := make(map[string]bool)
	if skipExisting {
		for _, r := range store.AllRecords() {
			existing[r.Symbol+"\x00"+r.Timestamp] = true
		}
	}

	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		symbol := strings.TrimSpace(r.Symbol)
		payload := strings.TrimSpace(string(r.Payload))
		if symbol == "" || payload == "" || payload == "null" {
			skipped++
			continue
		}
		key := symbol + "\x00" + r.Timestamp
		if skipExisting && existing[key] {
			skipped++
			continue
		}
		if _, err := store.RecordArrived(ctx, symbol, r.Timestamp, r.Payload); err != nil {
			if errors.Is(err, history.ErrInvalidRecord) {
				skipped++
				continue
			}
			return added, skipped, fmt.Errorf("import stopped after %d reports: %w", added, err)
		}
		existing[key] = true
		added++
	}
	return added, skipped, nil
}
