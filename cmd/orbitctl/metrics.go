package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

type SampleRow struct {
	CollectedAt   string  `json:"collected_at"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	ProcessCount  int     `json:"process_count"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

type SampleListResponse struct {
	WSID    string      `json:"wsid"`
	Samples []SampleRow `json:"samples"`
}

var (
	metricsFrom  string
	metricsTo    string
	metricsLimit int
)

var metricsCmd = &cobra.Command{
	Use:   "metrics <wsid>",
	Short: "Show stored resource samples for a workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		q := url.Values{}
		if metricsFrom != "" {
			q.Set("from", metricsFrom)
		}
		if metricsTo != "" {
			q.Set("to", metricsTo)
		}
		if metricsLimit > 0 {
			q.Set("limit", fmt.Sprintf("%d", metricsLimit))
		}
		path := "/v1/workspaces/" + args[0] + "/metrics"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var resp SampleListResponse
		if err := client.Get(path, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Samples)
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsFrom, "from", "", "Oldest sample to include (RFC3339)")
	metricsCmd.Flags().StringVar(&metricsTo, "to", "", "Newest sample to include (RFC3339)")
	metricsCmd.Flags().IntVar(&metricsLimit, "limit", 0, "Maximum samples to return")
	rootCmd.AddCommand(metricsCmd)
}
