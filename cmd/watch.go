package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ravenhall/lodestar/internal/config"
	"github.com/ravenhall/lodestar/internal/engine"
	"github.com/ravenhall/lodestar/internal/project"
	"github.com/ravenhall/lodestar/internal/projfile"
	"github.com/ravenhall/lodestar/internal/telemetry"
	"github.com/ravenhall/lodestar/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch [file.toml]",
	Short: "Re-render the schedule whenever the project file changes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	path := projectPath(cfg, args)
	opts, err := engineOptions(cfg)
	if err != nil {
		return err
	}

	emitter := newEmitter(cfg)
	defer emitter.Close() //nolint:errcheck

	plain, _ := cmd.Flags().GetBool("plain")
	render := func() {
		state, name, err := projfile.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			return
		}
		res, err := engine.Recalculate(state.Tasks, state.Calendar, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "recalculate failed: %v\n", err)
			return
		}
		r := ui.Renderer{Plain: plain}
		if name == "" {
			name = path
		}
		fmt.Fprintf(os.Stdout, "%s  (%s)\n", name, time.Now().Format("15:04:05"))
		fmt.Fprint(os.Stdout, r.Table(res.Tasks))
		fmt.Fprint(os.Stdout, r.Summary(res.Stats))
	}
	render()

	watcher, err := project.NewWatcher(path, cfg.WatchDebounce())
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case change, ok := <-watcher.Changes:
				if !ok {
					return nil
				}
				_ = emitter.Emit(telemetry.Event{
					Kind: telemetry.KindFileChanged,
					Data: map[string]any{"path": change.Path},
				})
				render()
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		watcher.Stop()
		return nil
	})

	fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", path)
	return g.Wait()
}

func init() {
	watchCmd.Flags().Bool("plain", false, "disable color output")
	rootCmd.AddCommand(watchCmd)
}
