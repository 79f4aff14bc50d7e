package main

import (
	"context"
	"encoding/json"
	"fmt"

	"docreview/internal/workflow"

	"github.com/spf13/cobra"
)

var graphFormat string

// graphCmd prints the compiled review graph
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the review graph compiled from the current personas",
	Args:  cobra.NoArgs,
	RunE:  printGraph,
}

func init() {
	graphCmd.Flags().StringVar(&graphFormat, "format", "text", "Output format: text, json or mermaid")
}

func printGraph(cmd *cobra.Command, args []string) error {
	st, err := personaStoreOnly(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var current workflow.Current
	g, err := current.Reload(context.Background(), st)
	if err != nil {
		return err
	}
	desc := g.Describe()
	out := cmd.OutOrStdout()

	switch graphFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(desc)
	case "mermaid":
		_, err := fmt.Fprint(out, desc.Mermaid())
		return err
	case "text":
		fmt.Fprintf(out, "entry: %s\nexit:  %s\n\nnodes:\n", desc.Entry, desc.Exit)
		for _, n := range desc.Nodes {
			if n.PersonaName != "" {
				fmt.Fprintf(out, "  %-12s %-10s %s\n", n.ID, n.Kind, n.PersonaName)
			} else {
				fmt.Fprintf(out, "  %-12s %s\n", n.ID, n.Kind)
			}
		}
		fmt.Fprintln(out, "\nedges:")
		for _, e := range desc.Edges {
			suffix := ""
			if e.Conditional {
				suffix = " (when selected)"
			}
			fmt.Fprintf(out, "  %s -> %s%s\n", e.From, e.To, suffix)
		}
		return nil
	}
	return fmt.Errorf("unknown format %q", graphFormat)
}
