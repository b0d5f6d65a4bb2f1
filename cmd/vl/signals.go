package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ventureline/internal/domain"
	"ventureline/internal/engine"
)

// listCmd renders the items returned by list as a table, or JSON with --json.
func listCmd[T any](short string, header table.Row, list func(context.Context, engine.Engine, domain.Project) ([]T, error), row func(T) table.Row) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				items, err := list(ctx, e, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(header)
				for _, it := range items {
					tw.AppendRow(row(it))
				}
				tw.Render()
				return nil
			})
		},
	}
}

func noteCmd() *cobra.Command {
	note := &cobra.Command{Use: "note", Short: "Project notes"}
	var stepKey string
	add := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				n, err := e.AddNote(ctx, p.ID, stepKey, args[0], actorID())
				if err != nil {
					return err
				}
				fmt.Printf("Added note %s\n", n.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&stepKey, "step", "", "attach the note to a step")
	note.AddCommand(add)
	note.AddCommand(listCmd("List notes", table.Row{"ID", "Step", "Note", "Created"},
		func(ctx context.Context, e engine.Engine, p domain.Project) ([]domain.Note, error) {
			return e.ListNotes(ctx, p.ID, actorID())
		},
		func(n domain.Note) table.Row { return table.Row{n.ID, n.StepKey, n.Body, n.CreatedAt} }))
	return note
}

func tagCmd() *cobra.Command {
	tag := &cobra.Command{Use: "tag", Short: "Project tags"}
	tag.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Tag the project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				_, err := e.AddTag(ctx, p.ID, args[0], actorID())
				return err
			})
		},
	})
	tag.AddCommand(listCmd("List tags", table.Row{"Tag", "Created"},
		func(ctx context.Context, e engine.Engine, p domain.Project) ([]domain.Tag, error) {
			return e.ListTags(ctx, p.ID, actorID())
		},
		func(t domain.Tag) table.Row { return table.Row{t.Name, t.CreatedAt} }))
	return tag
}

func linkCmd() *cobra.Command {
	link := &cobra.Command{Use: "link", Short: "Linked external tool outputs"}
	var stepKey string
	add := &cobra.Command{
		Use:   "add <tool> <output-ref>",
		Short: "Link an external tool output (persona, competitor analysis, ...)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				l, err := e.LinkTool(ctx, p.ID, stepKey, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				fmt.Printf("Linked %s %s\n", l.Tool, l.OutputRef)
				return nil
			})
		},
	}
	add.Flags().StringVar(&stepKey, "step", "", "step the output belongs to")
	link.AddCommand(add)
	link.AddCommand(listCmd("List linked tool outputs", table.Row{"ID", "Step", "Tool", "Ref"},
		func(ctx context.Context, e engine.Engine, p domain.Project) ([]domain.LinkedTool, error) {
			return e.ListLinkedTools(ctx, p.ID, "", actorID())
		},
		func(l domain.LinkedTool) table.Row { return table.Row{l.ID, l.StepKey, l.Tool, l.OutputRef} }))
	return link
}

func interviewCmd() *cobra.Command {
	iv := &cobra.Command{Use: "interview", Short: "Validation interviews"}
	var summary, heldAt string
	add := &cobra.Command{
		Use:   "add <interviewee>",
		Short: "Log an interview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				it, err := e.AddInterview(ctx, p.ID, args[0], summary, heldAt, actorID())
				if err != nil {
					return err
				}
				fmt.Printf("Logged interview %s\n", it.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&summary, "summary", "", "what you learned")
	add.Flags().StringVar(&heldAt, "held-at", "", "RFC3339 time of the interview (default now)")
	iv.AddCommand(add)
	iv.AddCommand(listCmd("List interviews", table.Row{"ID", "Interviewee", "Held", "Summary"},
		func(ctx context.Context, e engine.Engine, p domain.Project) ([]domain.Interview, error) {
			return e.ListInterviews(ctx, p.ID, actorID())
		},
		func(i domain.Interview) table.Row { return table.Row{i.ID, i.Interviewee, i.HeldAt, i.Summary} }))
	return iv
}

func assumptionCmd() *cobra.Command {
	as := &cobra.Command{Use: "assumption", Short: "Riskiest assumptions"}
	as.AddCommand(&cobra.Command{
		Use:   "add <statement>",
		Short: "Record an assumption",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				a, err := e.AddAssumption(ctx, p.ID, args[0], actorID())
				if err != nil {
					return err
				}
				fmt.Printf("Recorded assumption %s\n", a.ID)
				return nil
			})
		},
	})
	as.AddCommand(&cobra.Command{
		Use:   "validate <id> [true|false]",
		Short: "Mark an assumption validated (or not)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			validated := true
			if len(args) == 2 {
				v, err := strconv.ParseBool(args[1])
				if err != nil {
					return fmt.Errorf("invalid value %q; want true or false", args[1])
				}
				validated = v
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				_, err := e.SetAssumptionValidated(ctx, p.ID, args[0], validated, actorID())
				return err
			})
		},
	})
	as.AddCommand(listCmd("List assumptions", table.Row{"ID", "Statement", "Validated"},
		func(ctx context.Context, e engine.Engine, p domain.Project) ([]domain.Assumption, error) {
			return e.ListAssumptions(ctx, p.ID, actorID())
		},
		func(a domain.Assumption) table.Row { return table.Row{a.ID, a.Statement, a.Validated} }))
	return as
}
