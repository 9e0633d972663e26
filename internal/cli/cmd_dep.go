package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskplan/internal/planner"
)

func newDepCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage task dependencies",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <task> <depends-on>",
			Short: "Make a task wait for another; refused when it would close a cycle",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDepAdd(cmd, opts, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:     "rm <task> <depends-on>",
			Aliases: []string{"remove"},
			Short:   "Remove a dependency",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDepRemove(cmd, opts, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "check <task> <depends-on>",
			Short: "Report whether a dependency could be added without a cycle",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDepCheck(cmd, opts, args[0], args[1])
			},
		},
	)
	return cmd
}

func runDepAdd(cmd *cobra.Command, opts *globalOptions, taskID, dependsOn string) error {
	return withPlanner(cmd, opts, func(svc *planner.Service) error {
		t, err := svc.AddDependency(cmd.Context(), taskID, dependsOn)
		if err != nil {
			return err
		}
		if opts.JSON {
			return printJSON(cmd.OutOrStdout(), t)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added dependency: %s depends on %s\n", taskID, dependsOn)
		return nil
	})
}

func runDepRemove(cmd *cobra.Command, opts *globalOptions, taskID, dependsOn string) error {
	return withPlanner(cmd, opts, func(svc *planner.Service) error {
		t, err := svc.RemoveDependency(cmd.Context(), taskID, dependsOn)
		if err != nil {
			return err
		}
		if opts.JSON {
			return printJSON(cmd.OutOrStdout(), t)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed dependency: %s no longer depends on %s\n", taskID, dependsOn)
		return nil
	})
}

type depCheckResult struct {
	TaskID       string `json:"task_id"`
	DependencyID string `json:"dependency_id"`
	Safe         bool   `json:"safe"`
}

func runDepCheck(cmd *cobra.Command, opts *globalOptions, taskID, dependsOn string) error {
	return withPlanner(cmd, opts, func(svc *planner.Service) error {
		safe, err := svc.CheckDependency(cmd.Context(), taskID, dependsOn)
		if err != nil {
			return err
		}
		if opts.JSON {
			return printJSON(cmd.OutOrStdout(), depCheckResult{TaskID: taskID, DependencyID: dependsOn, Safe: safe})
		}
		if safe {
			fmt.Fprintf(cmd.OutOrStdout(), "safe: %s may depend on %s\n", taskID, dependsOn)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "unsafe: %s depending on %s would create a cycle\n", taskID, dependsOn)
		}
		return nil
	})
}
