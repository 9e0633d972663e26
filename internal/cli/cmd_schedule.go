package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"taskplan/internal/planner"
	"taskplan/internal/schedule"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	criticalStyle = cellStyle.Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	noteStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// scheduleRow is the JSON shape of one scheduled task.
type scheduleRow struct {
	schedule.Task
	Slack    int  `json:"slack"`
	Critical bool `json:"critical"`
}

type scheduleJSON struct {
	Project  schedule.Project `json:"project"`
	Duration int              `json:"duration"`
	Critical []string         `json:"critical"`
	Tasks    []scheduleRow    `json:"tasks"`
}

func newScheduleCmd(opts *globalOptions) *cobra.Command {
	var recompute bool
	cmd := &cobra.Command{
		Use:   "schedule <project>",
		Short: "Show the project schedule in dependency order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd, opts, func(svc *planner.Service) error {
				if recompute {
					if _, err := svc.Recompute(cmd.Context(), args[0]); err != nil {
						return err
					}
				}
				v, err := svc.Schedule(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), toScheduleJSON(v))
				}
				renderSchedule(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&recompute, "recompute", false, "Recompute dates from the stored tasks first")
	return cmd
}

func newCriticalCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "critical <project>",
		Short: "List the tasks that end on the project end date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanner(cmd, opts, func(svc *planner.Service) error {
				if _, err := svc.Project(cmd.Context(), args[0]); err != nil {
					return err
				}
				tasks, err := svc.CriticalPath(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if opts.JSON {
					if tasks == nil {
						tasks = []schedule.Task{}
					}
					return printJSON(cmd.OutOrStdout(), tasks)
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), noteStyle.Render("No critical tasks"))
					return nil
				}
				rows := make([][]string, 0, len(tasks))
				for _, t := range tasks {
					rows = append(rows, []string{t.ID, t.Name, strconv.Itoa(t.Duration), formatDate(t.ActualStart), formatDate(t.ActualEnd)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), newTable([]string{"ID", "NAME", "DAYS", "START", "END"}, rows, nil).Render())
				return nil
			})
		},
	}
}

func toScheduleJSON(v planner.View) scheduleJSON {
	out := scheduleJSON{
		Project:  v.Project,
		Critical: v.Critical,
		Tasks:    make([]scheduleRow, 0, len(v.Tasks)),
	}
	if out.Critical == nil {
		out.Critical = []string{}
	}
	for _, t := range v.Tasks {
		out.Tasks = append(out.Tasks, scheduleRow{Task: t, Slack: v.Slack[t.ID], Critical: v.IsCritical(t.ID)})
		out.Duration = max(out.Duration, t.EarliestEnd)
	}
	return out
}

func renderSchedule(w io.Writer, v planner.View) {
	p := v.Project
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s (%s)", p.Name, p.ID)))
	fmt.Fprintf(w, "%s to %s\n", formatDate(p.StartDate), formatDate(p.EndDate))
	if len(v.Tasks) == 0 {
		fmt.Fprintln(w, noteStyle.Render("No tasks"))
		return
	}

	rows := make([][]string, 0, len(v.Tasks))
	critical := make(map[int]bool, len(v.Critical))
	for i, t := range v.Tasks {
		mark := ""
		if v.IsCritical(t.ID) {
			mark = "*"
			critical[i] = true
		}
		deps := "-"
		if len(t.Dependencies) > 0 {
			deps = strings.Join(t.Dependencies, ",")
		}
		rows = append(rows, []string{
			mark,
			t.ID,
			t.Name,
			string(t.Status),
			strconv.Itoa(t.Duration),
			deps,
			formatDate(t.ActualStart),
			formatDate(t.ActualEnd),
			strconv.Itoa(v.Slack[t.ID]),
		})
	}
	headers := []string{"", "ID", "NAME", "STATUS", "DAYS", "AFTER", "START", "END", "SLACK"}
	fmt.Fprintln(w, newTable(headers, rows, critical).Render())
	fmt.Fprintln(w, noteStyle.Render("* critical"))
}

// newTable renders rows with a rounded border, highlighting the rows whose
// index is set in highlight.
func newTable(headers []string, rows [][]string, highlight map[int]bool) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(noteStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case highlight[row]:
				return criticalStyle
			default:
				return cellStyle
			}
		})
}
