package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/model"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Output the dependency graph in DOT format",
	Long: `Prints the model's resource dependency graph in Graphviz DOT
format. Pipe the output to 'dot' to generate an image:

  stackform graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	m, err := model.LoadFile(modelFile)
	if err != nil {
		return err
	}

	g, err := graph.Build(m)
	if err != nil {
		return err
	}

	fmt.Print(g.Dot())
	return nil
}
