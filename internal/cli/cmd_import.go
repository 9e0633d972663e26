package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"taskplan/internal/planner"
)

func newImportCmd(opts *globalOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a project and its tasks from a JSON or YAML document",
		Long: `Create a project and its tasks from a JSON or YAML document.

Tasks name each other by key in "after"; keys only live in the document.
The document is checked against the import schema and for cycles before
anything is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := parseImportDoc(data)
			if err != nil {
				return err
			}
			if dryRun {
				ordered, err := doc.order()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tasks OK\n", args[0], len(ordered))
				return nil
			}
			return withPlanner(cmd, opts, func(svc *planner.Service) error {
				res, err := importProject(cmd.Context(), svc, doc)
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Imported project %s (%s) with %d tasks, %s to %s\n",
					res.Project.ID, res.Project.Name, len(res.Tasks), formatDate(res.Project.StartDate), formatDate(res.Project.EndDate))
				keys := make([]string, 0, len(res.Tasks))
				for k := range res.Tasks {
					keys = append(keys, k)
				}
				slices.Sort(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "  %s\t%s\n", k, res.Tasks[k])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only validate the document")
	return cmd
}
