package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/model"
	"github.com/stackform-io/stackform/internal/secret"
	"github.com/stackform-io/stackform/internal/state"
)

var (
	applyAutoApprove bool
	applyParallelism int
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the declared model",
	Long: `Computes a plan against persisted state and executes it, creating,
updating and destroying resources until reality matches the model.

On a partial failure every committed step stays committed; re-running
apply resumes from the persisted state.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of the plan")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 0, "Maximum concurrent provider calls (default 10)")
}

func runApply(cmd *cobra.Command, args []string) error {
	m, err := model.LoadFile(modelFile)
	if err != nil {
		return err
	}
	return applyModel(cmd, m)
}

// applyModel plans and executes m; destroy reuses it with an empty model.
func applyModel(cmd *cobra.Command, m *model.Model) error {
	ctx := cmd.Context()

	registry, secretSource, err := buildRegistry(ctx)
	if err != nil {
		return err
	}

	store := state.NewFileStore(stateFile)
	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	plan, prior, err := loadPlan(registry, m, store)
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

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	parallelism := applyParallelism
	if parallelism <= 0 {
		parallelism = parallelismFromEnv()
	}

	executor := engine.NewExecutor(registry, store, secret.NewResolver(secretSource), engine.Options{
		Parallelism: parallelism,
		Callback:    progressCallback,
	})

	fmt.Println()
	_, err = executor.Apply(ctx, plan, prior)
	if err != nil {
		var partial *engine.PartialFailure
		if errors.As(err, &partial) {
			fmt.Printf("\n%sApply incomplete: %d of %d changes committed.%s\n",
				colorYellow, len(partial.Completed), len(plan.Steps), colorReset)
			fmt.Println("Committed changes are saved; run apply again to resume.")
		}
		return err
	}

	fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d destroyed.\n",
		plan.Summary.Create+plan.Summary.Replace, plan.Summary.Update, plan.Summary.Destroy+plan.Summary.Replace)
	return nil
}
