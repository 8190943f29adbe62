package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type TemplateRow struct {
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
	Active     bool   `json:"active"`
	Config     struct {
		Actions []struct {
			Name string `json:"name"`
		} `json:"actions"`
	} `json:"config"`
}

type TemplateListResponse struct {
	Templates []TemplateRow `json:"templates"`
}

var templateCmd = &cobra.Command{
	Use:     "template",
	Aliases: []string{"tpl"},
	Short:   "Template management commands",
}

var tplCreateCmd = &cobra.Command{
	Use:   "create <definition.json>",
	Short: "Create a template from a JSON definition file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(raw, &body); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid template JSON: %v\n", err)
			os.Exit(1)
		}

		client := NewClient(apiURL)
		var created TemplateRow
		if err := client.Post("/v1/templates", body, &created, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Template created: %s\n", created.TemplateID)
	},
}

var tplListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp TemplateListResponse
		if err := client.Get("/v1/templates", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Templates)
	},
}

var tplGetCmd = &cobra.Command{
	Use:   "get <template-id>",
	Short: "Get template details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var tpl map[string]interface{}
		if err := client.Get("/v1/templates/"+args[0], &tpl); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(tpl)
	},
}

var tplUpdateCmd = &cobra.Command{
	Use:   "update <template-id> <definition.json>",
	Short: "Replace a template definition",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := os.ReadFile(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(raw, &body); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid template JSON: %v\n", err)
			os.Exit(1)
		}

		client := NewClient(apiURL)
		var updated TemplateRow
		if err := client.Patch("/v1/templates/"+args[0], body, &updated); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Template %s updated.\n", updated.TemplateID)
	},
}

var tplDeactivateCmd = &cobra.Command{
	Use:   "deactivate <template-id>",
	Short: "Deactivate a template",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)
		if err := client.Delete("/v1/templates/"+args[0], nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Template %s deactivated.\n", args[0])
	},
}

func init() {
	templateCmd.AddCommand(tplCreateCmd, tplListCmd, tplGetCmd, tplUpdateCmd, tplDeactivateCmd)
	rootCmd.AddCommand(templateCmd)
}
