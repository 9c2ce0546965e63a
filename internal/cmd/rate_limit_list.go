package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/swapgate/swapgate/internal/core/store"
	"github.com/swapgate/swapgate/internal/output"
)

var (
	rateLimitListOutput string
	rateLimitListOut    string
	rateLimitListOutDir string
	rateLimitListAll    bool
	rateLimitListKey    string
	rateLimitListPrefix string
)

type rateLimitRow struct {
	Key     string    `json:"key"`
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
	Expired bool      `json:"expired"`
}

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate limit windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(rateLimitListOutput)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.RateLimitQuery{
			All:    rateLimitListAll,
			Key:    strings.TrimSpace(rateLimitListKey),
			Prefix: strings.TrimSpace(rateLimitListPrefix),
		}
		if !query.All && query.Key == "" && query.Prefix == "" {
			query.All = true
		}

		entries, err := db.ListWindows(cmd.Context(), query)
		if err != nil {
			return err
		}
		rows := rateLimitRows(entries, time.Now().UTC())

		outPath := strings.TrimSpace(rateLimitListOut)
		outDir := strings.TrimSpace(rateLimitListOutDir)
		if outPath != "" && outDir != "" {
			return fmt.Errorf("--out and --out-dir are mutually exclusive")
		}
		if outDir != "" {
			outDir, err = ensureOutDir(outDir)
			if err != nil {
				return err
			}
			outPath = filepath.Join(outDir, fmt.Sprintf("rate-limit.list.%s", outputExtension(format)))
		}

		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if format == output.FormatJSON {
			payload, err := json.MarshalIndent(rows, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(sink.writer, string(payload))
			return err
		}

		_, err = fmt.Fprint(sink.writer, ascii.DrawBox(rateLimitBox(rows), 0))
		return err
	},
}

func rateLimitRows(entries []store.RateLimitEntry, now time.Time) []rateLimitRow {
	rows := make([]rateLimitRow, 0, len(entries))
	for _, entry := range entries {
		window := entry.Window
		rows = append(rows, rateLimitRow{
			Key:     entry.Key,
			Count:   window.Count,
			ResetAt: window.ResetAt.UTC(),
			Expired: window.Expired(now),
		})
	}
	return rows
}

func rateLimitBox(rows []rateLimitRow) string {
	lines := []string{"Rate Limits", ""}
	if len(rows) == 0 {
		return strings.Join(append(lines, "(no stored rate limit windows)"), "\n")
	}
	for _, row := range rows {
		line := fmt.Sprintf("%s: count=%d reset_at=%s", row.Key, row.Count, row.ResetAt.Format(time.RFC3339))
		if row.Expired {
			line += " (expired)"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func init() {
	rateLimitListCmd.Flags().StringVar(&rateLimitListOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	rateLimitListCmd.Flags().StringVar(&rateLimitListOut, "out", "", "Write output to a file (default stdout)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListOutDir, "out-dir", "", "Write output to a directory")
	rateLimitListCmd.Flags().BoolVar(&rateLimitListAll, "all", false, "List all windows")
	rateLimitListCmd.Flags().StringVar(&rateLimitListKey, "key", "", "List a single window (exact key)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "List windows with matching key prefix")
}
