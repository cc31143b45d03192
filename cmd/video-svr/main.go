package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "video-svr",
		Short:         "Correlates recorded video segments with motion events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (defaults and environment only when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override application.log_level")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(commitCmd())
	rootCmd.AddCommand(filesCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(retryReportsCmd())
	rootCmd.AddCommand(passesCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
