// Package main implements the compligator CLI for syncing and normalizing compliance documents.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "compligator",
	Short: "Compliance framework document sync and normalization",
	Long: "CompliGator downloads compliance-framework documents (FedRAMP, NIST, CMMC, DISA STIGs) " +
		"into a local content tree, skipping files that have not changed, and converts PDF, HTML, " +
		"and OSCAL JSON sources into uniform Markdown and JSON section documents.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath  string
	contentRoot string
	outputRoot  string
	verbose     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to JSON config file")
	rootCmd.PersistentFlags().StringVar(&contentRoot, "content-root", "", "Directory holding synced source files")
	rootCmd.PersistentFlags().StringVar(&outputRoot, "output-root", "", "Directory for normalized outputs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
