package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"taskplan/internal/planner"
	"taskplan/internal/schedule"
)

func newProjectCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(
		newProjectCreateCmd(opts),
		newProjectListCmd(opts),
		newProjectShowCmd(opts),
		newProjectStartCmd(opts),
		newProjectDeleteCmd(opts),
	)
	return cmd
}

type projectCreateFlags struct {
	id          string
	description string
	start       string
}

func newProjectCreateCmd(opts *globalOptions) *cobra.Command {
	var f projectCreateFlags
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCreate(cmd, opts, f, args[0])
		},
	}
	cmd.Flags().StringVar(&f.id, "id", "", "Project id (generated when empty)")
	cmd.Flags().StringVar(&f.description, "description", "", "Project description")
	cmd.Flags().StringVar(&f.start, "start", "", "Start date (YYYY-MM-DD, defaults to today)")
	return cmd
}

func runProjectCreate(cmd *cobra.Command, opts *globalOptions, f projectCreateFlags, name string) error {
	start := schedule.Date(time.Now())
	if f.start != "" {
		d, err := parseDateArg(f.start)
		if err != nil {
			return err
		}
		start = d
	}
	return withPlanner(cmd, opts, func(svc *planner.Service) error {
		p, err := svc.CreateProject(cmd.Context(), planner.ProjectInput{
			ID:          f.id,
			Name:        name,
			Description: f.description,
			StartDate:   start,
		})
		if err != nil {
			return err
		}
		if opts.JSON {
			return printJSON(cmd.OutOrStdout(), p)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s) starting %s\n", p.ID, p.Name, formatDate(p.StartDate))
		return nil
	})
}

func newProjectListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd, opts, func(svc *planner.Service) error {
				projects, err := svc.Projects(cmd.Context())
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), projects)
				}
				if len(projects) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No projects")
					return nil
				}
				for _, p := range projects {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s..%s\n", p.ID, p.Name, formatDate(p.StartDate), formatDate(p.EndDate))
				}
				return nil
			})
		},
	}
}

type projectSummary struct {
	schedule.Project
	Duration int `json:"duration"`
	Tasks    int `json:"tasks"`
}

func newProjectShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd, opts, func(svc *planner.Service) error {
				p, err := svc.Project(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				tasks, err := svc.Tasks(cmd.Context(), p.ID)
				if err != nil {
					return err
				}
				sum := projectSummary{Project: p, Tasks: len(tasks)}
				if !p.EndDate.IsZero() {
					sum.Duration = int(p.EndDate.Sub(p.StartDate).Hours() / 24)
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), sum)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Project:  %s\n", p.ID)
				fmt.Fprintf(out, "Name:     %s\n", p.Name)
				if p.Description != "" {
					fmt.Fprintf(out, "About:    %s\n", p.Description)
				}
				fmt.Fprintf(out, "Start:    %s\n", formatDate(p.StartDate))
				fmt.Fprintf(out, "End:      %s\n", formatDate(p.EndDate))
				fmt.Fprintf(out, "Duration: %d days\n", sum.Duration)
				fmt.Fprintf(out, "Tasks:    %d\n", sum.Tasks)
				return nil
			})
		},
	}
}

func newProjectStartCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start <project> <YYYY-MM-DD>",
		Short: "Move the project start date and reschedule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDateArg(args[1])
			if err != nil {
				return err
			}
			return withPlanner(cmd, opts, func(svc *planner.Service) error {
				res, err := svc.SetProjectStart(cmd.Context(), args[0], start)
				if err != nil {
					return err
				}
				if opts.JSON {
					p, err := svc.Project(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), projectSummary{Project: p, Duration: res.Duration, Tasks: len(res.Tasks)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Project %s now runs %s to %s (%d days)\n",
					args[0], formatDate(res.StartDate), formatDate(res.EndDate), res.Duration)
				return nil
			})
		},
	}
}

func newProjectDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <project>",
		Aliases: []string{"rm"},
		Short:   "Delete a project and all its tasks",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd, opts, func(svc *planner.Service) error {
				if err := svc.DeleteProject(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s\n", args[0])
				return nil
			})
		},
	}
}
