package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/model"
	"github.com/stackform-io/stackform/internal/state"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the actions required to reach the declared model",
	Long: `Diffs the model document against persisted state and prints the
ordered set of create, update and destroy actions an apply would perform.
No provider mutations are made.`,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := model.LoadFile(modelFile)
	if err != nil {
		return err
	}

	registry, _, err := buildRegistry(ctx)
	if err != nil {
		return err
	}

	plan, _, err := loadPlan(registry, m, state.NewFileStore(stateFile))
	if err != nil {
		return err
	}

	if !plan.Changes() {
		fmt.Println("No changes. Infrastructure matches the model.")
		return nil
	}

	fmt.Println("Stackform will perform the following actions:")
	renderPlan(plan)
	renderSummary(plan)
	return nil
}
