package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ventureline/internal/app"
	"ventureline/internal/domain"
	"ventureline/internal/engine"
	"ventureline/internal/generator"
	"ventureline/internal/wizard"
)

func discoveryCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "discovery",
		Short: "Idea Discovery: find a business idea step by step",
	}
	d.AddCommand(discoveryRunCmd())
	d.AddCommand(discoveryListCmd())
	d.AddCommand(discoveryOutputsCmd())
	return d
}

func discoveryRunCmd() *cobra.Command {
	var resume string
	var attach bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Walk through the discovery funnel interactively",
		Long: `Answers are typed at the prompt. Enter "<" to go back, "-" to skip an optional
question and "q" to stop. Sessions only survive the process when --redis-addr
is set; pass --resume <id> to continue one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var s *wizard.Session
				var err error
				if resume != "" {
					s, err = e.GetDiscovery(ctx, resume, actorID())
				} else {
					projectID := ""
					if attach {
						p, perr := app.ResolveProject(ctx, e, viper.GetString("project"), actorID())
						if perr != nil {
							return perr
						}
						projectID = p.ID
					}
					s, err = e.StartDiscovery(ctx, actorID(), projectID)
				}
				if err != nil {
					return err
				}
				r := discoveryRunner{e: e, in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}
				return r.run(ctx, s)
			})
		},
	}
	cmd.Flags().StringVar(&resume, "resume", "", "session id to continue")
	cmd.Flags().BoolVar(&attach, "attach", false, "attach the result to the current project")
	return cmd
}

type discoveryRunner struct {
	e   engine.Engine
	in  *bufio.Reader
	out io.Writer
}

var errQuit = errors.New("quit")

func (r discoveryRunner) prompt(label string) (string, error) {
	fmt.Fprintf(r.out, "%s\n> ", label)
	line, err := r.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", errQuit
		}
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "q" {
		return "", errQuit
	}
	return line, nil
}

func (r discoveryRunner) run(ctx context.Context, s *wizard.Session) error {
	id, owner := s.ID, actorID()
	for {
		def, ok := wizard.Lookup(s.Stage)
		if !ok {
			return fmt.Errorf("session %s is on unknown stage %s", id, s.Stage)
		}
		var err error
		switch {
		case def.Key == wizard.StageSummary:
			return r.summary(ctx, id, owner)
		case def.Key == wizard.StageLanding:
			fmt.Fprintf(r.out, "Idea Discovery (session %s)\n", id)
			s, err = r.e.DiscoveryNext(ctx, id, owner)
		case def.Input:
			s, err = r.answer(ctx, s, def)
		case def.Selection():
			s, err = r.choose(ctx, s, def)
		}
		if errors.Is(err, errQuit) {
			fmt.Fprintf(r.out, "Stopped on %s. Resume with: vl discovery run --resume %s\n", def.Title, id)
			return nil
		}
		if err != nil {
			if !errors.Is(err, wizard.ErrInvalidTransition) && !errors.Is(err, wizard.ErrUnknownCandidate) {
				return err
			}
			fmt.Fprintf(r.out, "! %v\n", err)
			if s, err = r.e.GetDiscovery(ctx, id, owner); err != nil {
				return err
			}
		}
	}
}

func (r discoveryRunner) answer(ctx context.Context, s *wizard.Session, def wizard.StageDef) (*wizard.Session, error) {
	label := def.Title
	if prev := s.Answers[def.Key]; prev != "" {
		label += fmt.Sprintf(" [%s]", prev)
	}
	if def.Optional {
		label += " (optional, - to skip)"
	}
	line, err := r.prompt(label)
	if err != nil {
		return s, err
	}
	switch {
	case line == "<":
		return r.e.DiscoveryPrevious(ctx, s.ID, s.OwnerID)
	case line == "-" || (line == "" && def.Optional && s.Answers[def.Key] == ""):
		return r.e.DiscoverySkip(ctx, s.ID, s.OwnerID)
	case line != "":
		if _, err := r.e.DiscoveryAnswer(ctx, s.ID, s.OwnerID, line); err != nil {
			return s, err
		}
	}
	return r.e.DiscoveryNext(ctx, s.ID, s.OwnerID)
}

func (r discoveryRunner) choose(ctx context.Context, s *wizard.Session, def wizard.StageDef) (*wizard.Session, error) {
	cands := s.Pending[def.Key]
	if len(cands) == 0 {
		fmt.Fprintf(r.out, "Generating %s options...\n", strings.ToLower(def.Title))
		generated, next, err := r.e.DiscoveryGenerate(ctx, s.ID, s.OwnerID)
		if err != nil {
			var ge *generator.GenerationError
			if !errors.As(err, &ge) {
				return s, err
			}
			// The stored session is unchanged; nothing is retried without the user.
			line, perr := r.prompt(fmt.Sprintf("Generation failed (%v). Press enter to try again or < to go back.", ge))
			if perr != nil {
				return s, perr
			}
			if line == "<" {
				return r.e.DiscoveryPrevious(ctx, s.ID, s.OwnerID)
			}
			return s, nil
		}
		cands, s = generated, next
	}
	for i, c := range cands {
		fmt.Fprintf(r.out, "  %d. %s %s: %s\n", i+1, c.Icon, c.Title, c.Description)
	}
	line, err := r.prompt(fmt.Sprintf("Pick a %s (1-%d), < to go back", strings.ToLower(def.Title), len(cands)))
	if err != nil {
		return s, err
	}
	if line == "<" {
		return r.e.DiscoveryPrevious(ctx, s.ID, s.OwnerID)
	}
	n, convErr := strconv.Atoi(line)
	if convErr != nil || n < 1 || n > len(cands) {
		fmt.Fprintf(r.out, "! enter a number between 1 and %d\n", len(cands))
		return s, nil
	}
	return r.e.DiscoveryChoose(ctx, s.ID, s.OwnerID, cands[n-1].ID)
}

func (r discoveryRunner) summary(ctx context.Context, id, owner string) error {
	out, err := r.e.DiscoveryFinalize(ctx, id, owner)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(out)
	}
	printOutput(r.out, out)
	return nil
}

func printOutput(w io.Writer, out domain.DiscoveryOutput) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Discovery " + out.ID)
	tw.AppendHeader(table.Row{"", "Choice", "Why"})
	tw.AppendRow(table.Row{"Business area", out.BusinessArea.Title, out.BusinessArea.Description})
	tw.AppendRow(table.Row{"Customer", out.Customer.Title, out.Customer.Description})
	tw.AppendRow(table.Row{"Job", out.Job.Title, out.Job.Description})
	tw.AppendRow(table.Row{"Solution", out.Solution.Title, out.Solution.Description})
	tw.Render()
}

func discoveryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List in-flight discovery sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDiscoveries(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Stage", "Project", "Saved", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Stage, s.ProjectID, s.Saved, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func discoveryOutputsCmd() *cobra.Command {
	var projectOnly bool
	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "List saved discovery results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := ""
				if projectOnly {
					p, err := app.ResolveProject(ctx, e, viper.GetString("project"), actorID())
					if err != nil {
						return err
					}
					projectID = p.ID
				}
				outs, err := e.ListDiscoveryOutputs(ctx, actorID(), projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(outs)
				}
				for _, out := range outs {
					printOutput(os.Stdout, out)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&projectOnly, "project-only", false, "only results attached to the current project")
	return cmd
}
