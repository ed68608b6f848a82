package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"formpilot/internal/roles"
	"formpilot/internal/types"
)

var schemaShowForm bool

// schemaCmd prints the structured-output schemas of the roles
var schemaCmd = &cobra.Command{
	Use:   "schema [role]",
	Short: "Print the JSON schema each role's output must match",
	Long: `Prints the JSON Schema documents sent to structured-output providers, one
per role (intent, extraction, specialist, conversation). With --form it
prints the loaded form template and validation rules instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaShowForm, "form", false, "Print the form template and validation rules")
}

func runSchema(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if schemaShowForm {
		a, err := openApp(cmd.Context(), cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		fmt.Fprintln(out, "# template")
		fmt.Fprintln(out, a.forms.Template().Indented())
		fmt.Fprintln(out, "# rules")
		fmt.Fprintln(out, a.forms.Rules().Indented())
		return nil
	}

	var selected map[roles.Role]*types.ResponseSchema
	if len(args) == 1 {
		s, err := roles.OutputSchema(roles.Role(args[0]))
		if err != nil {
			return err
		}
		selected = map[roles.Role]*types.ResponseSchema{roles.Role(args[0]): s}
	} else {
		all, err := roles.OutputSchemas()
		if err != nil {
			return err
		}
		selected = all
	}

	names := make([]string, 0, len(selected))
	for role := range selected {
		names = append(names, string(role))
	}
	sort.Strings(names)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	for _, name := range names {
		if err := enc.Encode(selected[roles.Role(name)]); err != nil {
			return err
		}
	}
	return nil
}
