package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"devmux/internal/config"
	"devmux/internal/mux"
	"devmux/internal/supervise"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run [-f devmux.yaml]",
		Short: "Start the multiplexer for the tabs declared in the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdin.Fd()) {
				return fmt.Errorf("devmux needs a terminal on stdin")
			}

			cfg, err := config.LoadFrom(configPath)
			if err != nil {
				return err
			}

			// One instance per project: lock next to the config file.
			lockPath := filepath.Join(filepath.Dir(configPath), ".devmux.lock")
			lock := flock.New(lockPath)
			held, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire %s: %w", lockPath, err)
			}
			if !held {
				return fmt.Errorf("another devmux is already running here (%s)", lockPath)
			}
			defer lock.Unlock()

			var controllers []*supervise.Controller
			for _, tab := range cfg.Tabs {
				argv, err := tab.Argv()
				if err != nil {
					return err
				}
				controllers = append(controllers, supervise.New(supervise.Config{
					Name:       tab.Name,
					Argv:       argv,
					Env:        tab.Env,
					Autostart:  tab.Autostart,
					Scrollback: tab.Scrollback,
				}))
			}

			m := mux.New(controllers)
			for i, tab := range cfg.Tabs {
				if tab.RestartSchedule == "" {
					continue
				}
				if err := m.SetRestartSchedule(i, tab.RestartSchedule); err != nil {
					return fmt.Errorf("tab %s: %w", tab.Name, err)
				}
			}
			return m.Run()
		},
	}

	cmd.Flags().StringVarP(&configPath, "file", "f", config.DefaultFile, "Path to the tab config")

	return cmd
}
