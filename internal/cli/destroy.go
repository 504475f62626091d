package cli

import (
	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/model"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy all managed infrastructure",
	Long: `Destroys every resource tracked in the state file, in reverse
dependency order. Equivalent to applying an empty model.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of the plan")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	return applyModel(cmd, model.Empty())
}
