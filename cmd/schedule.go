package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ravenhall/lodestar/internal/engine"
	"github.com/ravenhall/lodestar/internal/ui"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule [file.toml]",
	Short: "Compute and display the project schedule",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSchedule,
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, state, name, err := loadProject(args)
	if err != nil {
		return err
	}
	opts, err := engineOptions(cfg)
	if err != nil {
		return err
	}

	res, err := engine.Recalculate(state.Tasks, state.Calendar, opts)
	if err != nil {
		return err
	}

	plain, _ := cmd.Flags().GetBool("plain")
	critical, _ := cmd.Flags().GetBool("critical")
	r := ui.Renderer{Plain: plain}

	fmt.Fprintln(os.Stdout, name)
	fmt.Fprint(os.Stdout, r.Table(res.Tasks))
	if critical {
		fmt.Fprint(os.Stdout, r.CriticalPath(res.Tasks))
	}
	fmt.Fprint(os.Stdout, r.Summary(res.Stats))
	return nil
}

func init() {
	scheduleCmd.Flags().Bool("plain", false, "disable color output")
	scheduleCmd.Flags().Bool("critical", false, "also list the critical path")
	rootCmd.AddCommand(scheduleCmd)
}
