package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"docreview/internal/persona"

	"github.com/spf13/cobra"
)

var (
	personaName   string
	personaPrompt string
)

// personasCmd manages reviewer personas
var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List, add or remove reviewer personas",
}

var personasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List personas",
	Args:  cobra.NoArgs,
	RunE:  listPersonas,
}

var personasAddCmd = &cobra.Command{
	Use:   "add [id]",
	Short: "Add or update a persona",
	Long: `Adds a persona or replaces the one with the same ID. IDs are lower-cased
and spaces become underscores.

Example:
  docreview personas add "Travel Expert" --name "Travel Expert" --prompt "You review travel writing."`,
	Args: cobra.ExactArgs(1),
	RunE: addPersona,
}

var personasRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a persona",
	Args:  cobra.ExactArgs(1),
	RunE:  removePersona,
}

func init() {
	personasAddCmd.Flags().StringVar(&personaName, "name", "", "Display name (required)")
	personasAddCmd.Flags().StringVar(&personaPrompt, "prompt", "", "Reviewer instruction (required)")
	_ = personasAddCmd.MarkFlagRequired("name")
	_ = personasAddCmd.MarkFlagRequired("prompt")

	personasCmd.AddCommand(personasListCmd)
	personasCmd.AddCommand(personasAddCmd)
	personasCmd.AddCommand(personasRemoveCmd)
}

func listPersonas(cmd *cobra.Command, args []string) error {
	st, err := personaStoreOnly(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	personas, err := st.List(context.Background())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, id := range persona.SortedIDs(personas) {
		fmt.Fprintf(w, "%s\t%s\n", id, personas[id].Name)
	}
	return w.Flush()
}

func addPersona(cmd *cobra.Command, args []string) error {
	st, err := personaStoreOnly(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := st.Put(context.Background(), persona.Persona{ID: args[0], Name: personaName, Prompt: personaPrompt})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved persona %s (%s)\n", p.ID, p.Name)
	return nil
}

func removePersona(cmd *cobra.Command, args []string) error {
	st, err := personaStoreOnly(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	id := persona.NormalizeID(args[0])
	if err := st.Delete(context.Background(), id); err != nil {
		return fmt.Errorf("cannot remove %s: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed persona %s\n", id)
	return nil
}
