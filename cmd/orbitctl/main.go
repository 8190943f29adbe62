package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	apiURL string
	output string
	asUser string
)

var rootCmd = &cobra.Command{
	Use:   "orbitctl",
	Short: "Orbit CLI - workspace orchestrator command line tool",
	Long:  `orbitctl is a command line interface for the Orbit workspace provisioning and lifecycle orchestrator.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api-url", "a", "http://localhost:8080", "Orbit API URL")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&asUser, "actor", "", "Acting identity recorded in audit events")
}
