package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/module"
	"github.com/aristath/conductor/internal/modules"
	"github.com/aristath/conductor/internal/persistence"
	"github.com/aristath/conductor/internal/process"
	"github.com/aristath/conductor/internal/tui"
	"github.com/aristath/conductor/internal/workflow"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <template>",
		Short: "Check a workflow template without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl, err := workflow.LoadTemplate(args[0])
			if err != nil {
				return err
			}
			reg := module.NewRegistry()
			if err := modules.Register(reg, process.NewManager()); err != nil {
				return err
			}
			var unknown []string
			for _, s := range tpl.Steps {
				if !reg.Has(s.ModuleName) {
					unknown = append(unknown, fmt.Sprintf("%s (step %s)", s.ModuleName, s.Key()))
				}
			}
			if len(unknown) > 0 {
				return fmt.Errorf("%w: unknown modules: %s", workflow.ErrInvalidWorkflow, strings.Join(unknown, ", "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s is valid (%d steps)\n", args[0], tpl.Name, len(tpl.Steps))
			return nil
		},
	}
}

func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the available modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := module.NewRegistry()
			if err := modules.Register(reg, process.NewManager()); err != nil {
				return err
			}
			tui.RenderModules(cmd.OutOrStdout(), reg)
			return nil
		},
	}
}

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history [workflow-id]",
		Short: "Show recorded workflow runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.cfg.History.Enabled {
				return errors.New("history is disabled")
			}
			ctx := cmd.Context()
			store, err := persistence.NewSQLiteStore(ctx, c.cfg.History.Path)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := store.ListWorkflows(ctx, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, runs)
				}
				tui.RenderRuns(out, runs)
				return nil
			}

			wf, err := store.GetWorkflow(ctx, args[0])
			if errors.Is(err, persistence.ErrNotFound) {
				return fmt.Errorf("workflow %s not found in history", args[0])
			}
			if err != nil {
				return err
			}
			tasks, err := store.ListTasks(ctx, wf.ID+"/")
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, struct {
					*persistence.WorkflowRecord
					Tasks []persistence.TaskRecord `json:"tasks"`
				}{wf, tasks})
			}
			tui.RenderRun(out, wf, tasks)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or persist the effective configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := config.Marshal(c.cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "save [path]",
			Short: "Write the effective configuration to the config file",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := c.configPath
				if len(args) == 1 {
					path = args[0]
				}
				if err := config.Save(c.cfg, path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
				return nil
			},
		},
	)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
