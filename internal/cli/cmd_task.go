package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"taskplan/internal/planner"
	"taskplan/internal/schedule"
)

func newTaskCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage project tasks",
	}
	cmd.AddCommand(
		newTaskAddCmd(opts),
		newTaskListCmd(opts),
		newTaskUpdateCmd(opts),
		newTaskRemoveCmd(opts),
	)
	return cmd
}

type taskAddFlags struct {
	id       string
	status   string
	duration int
	after    []string
}

func newTaskAddCmd(opts *globalOptions) *cobra.Command {
	var f taskAddFlags
	cmd := &cobra.Command{
		Use:   "add <project> <name>",
		Short: "Add a task and reschedule the project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd, opts, func(svc *planner.Service) error {
				t, err := svc.CreateTask(cmd.Context(), args[0], planner.TaskInput{
					ID:           f.id,
					Name:         args[1],
					Status:       schedule.Status(f.status),
					Duration:     f.duration,
					Dependencies: f.after,
				})
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), t)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created task %s (%s) %s..%s\n", t.ID, t.Name, formatDate(t.ActualStart), formatDate(t.ActualEnd))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.id, "id", "", "Task id (generated when empty)")
	cmd.Flags().StringVar(&f.status, "status", string(schedule.StatusPending), "Status: pending, in-progress or completed")
	cmd.Flags().IntVarP(&f.duration, "duration", "d", 1, "Duration in days")
	cmd.Flags().StringSliceVar(&f.after, "after", nil, "Task ids this task waits for (repeatable)")
	return cmd
}

func newTaskListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <project>",
		Short: "List a project's tasks in creation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd, opts, func(svc *planner.Service) error {
				if _, err := svc.Project(cmd.Context(), args[0]); err != nil {
					return err
				}
				tasks, err := svc.Tasks(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if opts.JSON {
					if tasks == nil {
						tasks = []schedule.Task{}
					}
					return printJSON(cmd.OutOrStdout(), tasks)
				}
				printTaskLines(cmd.OutOrStdout(), tasks)
				return nil
			})
		},
	}
}

func printTaskLines(w io.Writer, tasks []schedule.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks")
		return
	}
	for _, t := range tasks {
		deps := "-"
		if len(t.Dependencies) > 0 {
			deps = strings.Join(t.Dependencies, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t[%s]\t%dd\tafter:%s\n", t.ID, t.Name, t.Status, t.Duration, deps)
	}
}

func newTaskUpdateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <task>",
		Short: "Change a task; duration or dependency changes reschedule the project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := taskPatchFromFlags(cmd)
			if err != nil {
				return err
			}
			return withPlanner(cmd, opts, func(svc *planner.Service) error {
				t, err := svc.UpdateTask(cmd.Context(), args[0], patch)
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), t)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated task %s (%s) %s..%s\n", t.ID, t.Name, formatDate(t.ActualStart), formatDate(t.ActualEnd))
				return nil
			})
		},
	}
	cmd.Flags().String("name", "", "New name")
	cmd.Flags().String("status", "", "New status")
	cmd.Flags().IntP("duration", "d", 0, "New duration in days")
	cmd.Flags().StringSlice("deps", nil, "Replace the dependency list (pass --deps= to clear)")
	return cmd
}

// taskPatchFromFlags builds a patch from the flags that were set explicitly.
func taskPatchFromFlags(cmd *cobra.Command) (planner.TaskPatch, error) {
	var patch planner.TaskPatch
	flags := cmd.Flags()
	if flags.Changed("name") {
		v, _ := flags.GetString("name")
		patch.Name = &v
	}
	if flags.Changed("status") {
		v, _ := flags.GetString("status")
		st := schedule.Status(v)
		patch.Status = &st
	}
	if flags.Changed("duration") {
		v, _ := flags.GetInt("duration")
		patch.Duration = &v
	}
	if flags.Changed("deps") {
		v, _ := flags.GetStringSlice("deps")
		deps := make([]string, 0, len(v))
		for _, d := range v {
			if d = strings.TrimSpace(d); d != "" {
				deps = append(deps, d)
			}
		}
		patch.Dependencies = &deps
	}
	if patch == (planner.TaskPatch{}) {
		return patch, fmt.Errorf("no fields to update")
	}
	return patch, nil
}

func newTaskRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <task>",
		Aliases: []string{"delete"},
		Short:   "Delete a task that nothing depends on",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd, opts, func(svc *planner.Service) error {
				if err := svc.DeleteTask(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
				return nil
			})
		},
	}
}
