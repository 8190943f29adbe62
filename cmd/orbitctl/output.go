package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
)

func printResult(v interface{}) {
	if output == "json" {
		json.NewEncoder(os.Stdout).Encode(v)
		return
	}
	printTable(v)
}

func printTable(v interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	switch data := v.(type) {
	case []WorkspaceRow:
		if len(data) == 0 {
			fmt.Println("No workspaces found.")
			return
		}
		fmt.Fprintln(w, "WSID\tNAME\tSTATE\tSTEP\tRUNNING\tOWNER\tCREATED")
		for _, ws := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%v\t%s\t%s\n",
				short(ws.WSID), ws.Name, ws.State, ws.Step, ws.TotalSteps, ws.IsRunning, ws.Owner, ws.CreatedAt)
		}
	case []TemplateRow:
		if len(data) == 0 {
			fmt.Println("No templates found.")
			return
		}
		fmt.Fprintln(w, "TEMPLATE ID\tNAME\tVISIBILITY\tACTIVE\tACTIONS")
		for _, t := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\n",
				short(t.TemplateID), t.Name, t.Visibility, t.Active, len(t.Config.Actions))
		}
	case []SampleRow:
		if len(data) == 0 {
			fmt.Println("No samples found.")
			return
		}
		fmt.Fprintln(w, "COLLECTED\tCPU%\tMEM MB\tMEM%\tPROCS\tUPTIME")
		for _, s := range data {
			fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f\t%d\t%ds\n",
				s.CollectedAt, s.CPUPercent, s.MemoryUsedMB, s.MemoryPercent, s.ProcessCount, s.UptimeSeconds)
		}
	case StatusRow:
		fmt.Fprintf(w, "WSID:\t%s\n", data.WSID)
		fmt.Fprintf(w, "State:\t%s\n", data.State)
		fmt.Fprintf(w, "Step:\t%d/%d\n", data.Step, data.TotalSteps)
		fmt.Fprintf(w, "Retries:\t%d\n", data.RetryCount)
		fmt.Fprintf(w, "Running:\t%v\n", data.IsRunning)
		if data.LastError != nil {
			fmt.Fprintf(w, "Last error:\t%s\n", *data.LastError)
		}
		if data.FailedStep != nil {
			fmt.Fprintf(w, "Failed step:\t%d\n", *data.FailedStep)
		}
		if data.UncompensatedBefore != nil {
			fmt.Fprintf(w, "Uncompensated before:\t%d\n", *data.UncompensatedBefore)
		}
	default:
		json.NewEncoder(os.Stdout).Encode(v)
	}
	w.Flush()
}

func short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
