package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/logging"
)

// errWorkflowNotCompleted makes the process exit non-zero without printing
// a second error after the status table.
var errWorkflowNotCompleted = errors.New("workflow did not complete")

// cli carries what every subcommand needs once flags are parsed.
type cli struct {
	configPath string
	cfg        *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errWorkflowNotCompleted) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "conductor",
		Short:         "Run dependency-ordered workflows of modules",
		Long:          `Conductor schedules workflow steps as tasks with priorities, dependencies, timeouts and retries, and records every run in a local history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.DefaultSources(c.configPath, cmd.Flags())...)
			if err != nil {
				return err
			}
			if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", config.DefaultPath(), "Path of the YAML config file")
	config.BindFlags(pf)

	root.AddCommand(
		newRunCmd(c),
		newValidateCmd(),
		newModulesCmd(),
		newHistoryCmd(c),
		newConfigCmd(c),
	)
	return root
}
