package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type WorkspaceRow struct {
	WSID       string `json:"wsid"`
	Name       string `json:"name"`
	State      string `json:"state"`
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	IsRunning  bool   `json:"is_running"`
	Owner      string `json:"owner"`
	CreatedAt  string `json:"created_at"`
}

type WorkspaceListResponse struct {
	Workspaces []WorkspaceRow `json:"workspaces"`
	NextCursor string         `json:"next_cursor"`
}

type StatusRow struct {
	WSID                string  `json:"wsid"`
	State               string  `json:"state"`
	Step                int     `json:"step"`
	TotalSteps          int     `json:"total_steps"`
	RetryCount          int     `json:"retry_count"`
	LastError           *string `json:"last_error"`
	FailedStep          *int    `json:"failed_step"`
	UncompensatedBefore *int    `json:"uncompensated_before"`
	IsRunning           bool    `json:"is_running"`
}

type WorkspaceRef struct {
	WSID      string `json:"wsid"`
	State     string `json:"state"`
	StatusURL string `json:"status_href"`
}

var (
	createOverrides map[string]string
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Workspace management commands",
}

var wsCreateCmd = &cobra.Command{
	Use:   "create <template-id> <company-id> <owner> <name>",
	Short: "Create a workspace from a template",
	Args:  cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		req := map[string]interface{}{
			"template_id": args[0],
			"company_id":  args[1],
			"owner":       args[2],
			"name":        args[3],
		}
		if len(createOverrides) > 0 {
			req["overrides"] = createOverrides
		}

		var resp WorkspaceRef
		err := client.Post("/v1/workspaces", req, &resp, map[string]string{
			"Idempotency-Key": uuid.New().String(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Workspace submitted for provisioning.\n")
		fmt.Printf("WSID: %s (state: %s)\n", resp.WSID, resp.State)
		fmt.Printf("Check status: orbitctl workspace status %s\n", resp.WSID)
	},
}

var wsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp WorkspaceListResponse
		if err := client.Get("/v1/workspaces", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Workspaces)
	},
}

var wsGetCmd = &cobra.Command{
	Use:   "get <wsid>",
	Short: "Get full workspace details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var ws map[string]interface{}
		if err := client.Get("/v1/workspaces/"+args[0], &ws); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(ws)
	},
}

var wsStatusCmd = &cobra.Command{
	Use:   "status <wsid>",
	Short: "Show provisioning progress",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var status StatusRow
		if err := client.Get("/v1/workspaces/"+args[0]+"/status", &status); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(status)
	},
}

var wsApproveCmd = &cobra.Command{
	Use:   "approve <wsid>",
	Short: "Approve a pending workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)
		if err := client.Post("/v1/workspaces/"+args[0]+":approve", nil, nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace %s approved.\n", args[0])
	},
}

var denyReason string

var wsDenyCmd = &cobra.Command{
	Use:   "deny <wsid>",
	Short: "Deny a pending workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)
		body := map[string]string{"reason": denyReason}
		if err := client.Post("/v1/workspaces/"+args[0]+":deny", body, nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace %s denied.\n", args[0])
	},
}

var wsCancelCmd = &cobra.Command{
	Use:   "cancel <wsid>",
	Short: "Cancel in-flight provisioning",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)
		if err := client.Post("/v1/workspaces/"+args[0]+":cancel", nil, nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Cancellation requested for %s.\n", args[0])
	},
}

var wsRequeueCmd = &cobra.Command{
	Use:   "requeue <wsid>",
	Short: "Restart provisioning of a failed workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp WorkspaceRef
		if err := client.Post("/v1/workspaces/"+args[0]+"/requeue", nil, &resp, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace %s requeued (state: %s).\n", resp.WSID, resp.State)
	},
}

var wsStartCmd = &cobra.Command{
	Use:   "start <wsid>",
	Short: "Start a completed workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)
		if err := client.Post("/v1/workspaces/"+args[0]+"/start", nil, nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace %s started.\n", args[0])
	},
}

var wsStopCmd = &cobra.Command{
	Use:   "stop <wsid>",
	Short: "Stop a running workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)
		if err := client.Post("/v1/workspaces/"+args[0]+"/stop", nil, nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace %s stopped.\n", args[0])
	},
}

var wsDeleteCmd = &cobra.Command{
	Use:   "delete <wsid>",
	Short: "Delete a stopped workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)
		if err := client.Delete("/v1/workspaces/"+args[0], nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace %s deleted.\n", args[0])
	},
}

func init() {
	wsCreateCmd.Flags().StringToStringVar(&createOverrides, "set", nil, "Per-workspace parameter overrides (key=value)")
	wsDenyCmd.Flags().StringVar(&denyReason, "reason", "", "Denial reason")
	workspaceCmd.AddCommand(wsCreateCmd, wsListCmd, wsGetCmd, wsStatusCmd,
		wsApproveCmd, wsDenyCmd, wsCancelCmd, wsRequeueCmd,
		wsStartCmd, wsStopCmd, wsDeleteCmd)
	rootCmd.AddCommand(workspaceCmd)
}
