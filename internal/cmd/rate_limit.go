package cmd

import "github.com/spf13/cobra"

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and reset persisted rate limit windows",
	Long: `Inspect and reset the per-client rate limit windows kept in the libsql store.
Keys have the form <policy>:<client>, for example swap:203.0.113.7.`,
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
