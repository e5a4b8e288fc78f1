package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ravenhall/lodestar/internal/engine"
	"github.com/ravenhall/lodestar/internal/graph"
	"github.com/ravenhall/lodestar/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file.toml]",
	Short: "Check a project file for structural and scheduling problems",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, state, name, err := loadProject(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ %v\n", err)
			os.Exit(1)
		}
		ok := true
		fmt.Fprintf(os.Stderr, "✓ %s parsed\n", name)

		g := graph.Build(state.Tasks)
		if _, err := g.TopoOrder(); err != nil {
			fmt.Fprintf(os.Stderr, "✗ dependency graph: %v\n", err)
			ok = false
		} else {
			fmt.Fprintln(os.Stderr, "✓ dependency graph is acyclic")
		}

		if ok {
			opts, err := engineOptions(cfg)
			if err != nil {
				return err
			}
			res, err := engine.Recalculate(state.Tasks, state.Calendar, opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "✗ schedule: %v\n", err)
				ok = false
			} else if res.Stats.ConflictCount > 0 {
				fmt.Fprintf(os.Stderr, "✗ %d constraint conflicts\n", res.Stats.ConflictCount)
				fmt.Fprint(os.Stderr, ui.Renderer{Plain: true}.Conflicts(res.Tasks))
				ok = false
			} else {
				fmt.Fprintln(os.Stderr, "✓ no constraint conflicts")
			}
		}

		if !ok {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
