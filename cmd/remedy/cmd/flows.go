package cmd

import (
	"fmt"

	"github.com/meow-stack/remedy/internal/catalog"
	"github.com/meow-stack/remedy/internal/runner"
	"github.com/spf13/cobra"
)

var flowsCmd = &cobra.Command{
	Use:     "flows",
	Aliases: []string{"ls"},
	Short:   "List the flows in the catalog",
	Long: `List every catalog entry: the classification it matches, the flow
directory it runs and the group a failed run is reassigned to.

With --actions, also lists each flow's actions in execution order.`,
	Args: cobra.NoArgs,
	RunE: runFlows,
}

var (
	flowsActions bool
	flowsJSON    bool
)

func init() {
	flowsCmd.Flags().BoolVarP(&flowsActions, "actions", "a", false, "list each flow's actions")
	flowsCmd.Flags().BoolVarP(&flowsJSON, "json", "j", false, "output as JSON")
	rootCmd.AddCommand(flowsCmd)
}

// flowListing is one catalog entry as printed by flows.
type flowListing struct {
	catalog.Flow
	Actions []string `json:"actions,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func runFlows(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}
	flows, err := catalog.Load(cfg.CatalogPath(dir), cfg.UseCasesDir(dir))
	if err != nil {
		return err
	}

	var listings []flowListing
	for _, f := range flows.Flows() {
		l := flowListing{Flow: f}
		if flowsActions {
			actions, err := flows.Actions(f.Name)
			if err != nil {
				l.Error = err.Error()
			}
			l.Actions = actions
		}
		listings = append(listings, l)
	}

	out := cmd.OutOrStdout()
	if flowsJSON {
		return writeJSON(out, listings)
	}

	fmt.Fprintf(out, "Flows in %s:\n\n", flows.Path())
	for _, l := range listings {
		fmt.Fprintf(out, "  %-24s %s\n", l.Name, l.Classification)
		fmt.Fprintf(out, "  %-24s reassign to: %s\n", "", l.ReassignmentGroup)
		if l.Error != "" {
			fmt.Fprintf(out, "  %-24s ✗ %s\n", "", l.Error)
		}
		for i, action := range l.Actions {
			kind, _ := runner.KindOf(action)
			fmt.Fprintf(out, "  %-24s %d. %s [%s]\n", "", i+1, action, kind)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, "Run: remedy run <payload.json>")
	return nil
}
