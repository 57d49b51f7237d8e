package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// NewModulesCommand lists the module catalogue.
func NewModulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the module catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			colorOutput := isatty.IsTerminal(os.Stdout.Fd())
			for _, key := range app.cat.Keys() {
				schema, _ := app.cat.Schema(key)
				title := schema.Title
				if colorOutput {
					title = color.New(color.Bold).Sprint(title)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", key, title)
				if len(schema.Factors) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s %d rated factors\n", "", len(schema.Factors))
				}
				if len(schema.Requires) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s requires: %s\n", "", strings.Join(schema.Requires, ", "))
				}
			}
			return nil
		},
	}
}
