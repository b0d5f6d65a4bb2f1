package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ventureline/internal/domain"
	"ventureline/internal/engine"
	"ventureline/internal/gate"
)

func stepCmd() *cobra.Command {
	step := &cobra.Command{
		Use:   "step",
		Short: "Work through the framework steps",
	}
	step.AddCommand(stepListCmd())
	step.AddCommand(stepEnterCmd())
	step.AddCommand(stepSaveCmd())
	step.AddCommand(stepCompleteCmd())
	step.AddCommand(stepGenerateCmd())
	return step
}

func stepListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List steps with status and lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				views, err := e.ListSteps(ctx, p.ID, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Key", "Title", "Status", "Access", "Missing inputs"})
				for _, v := range views {
					tw.AppendRow(table.Row{
						v.Definition.Ordinal,
						v.Definition.Key,
						v.Definition.Title,
						v.State.Status,
						accessLabel(v.Decision),
						strings.Join(v.MissingInputs, ", "),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func accessLabel(d gate.Decision) string {
	switch {
	case d.FailedOpen:
		return "open (unchecked)"
	case d.Allowed:
		return "open"
	default:
		return "locked by " + d.BlockingStepKey
	}
}

func stepEnterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enter <key>",
		Short: "Open a step and show its saved inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				view, err := e.EnterStep(ctx, p.ID, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	}
}

// parseInputs merges --input key=value pairs over an optional --inputs JSON object.
func parseInputs(pairs []string, raw string) (map[string]any, error) {
	inputs := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &inputs); err != nil {
			return nil, fmt.Errorf("invalid --inputs json: %w", err)
		}
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --input %q; want key=value", pair)
		}
		inputs[k] = v
	}
	return inputs, nil
}

func stepSaveCmd() *cobra.Command {
	var pairs []string
	var raw string
	cmd := &cobra.Command{
		Use:   "save <key>",
		Short: "Save step inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseInputs(pairs, raw)
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				st, err := e.SaveStepInputs(ctx, engine.StepSaveOptions{
					ProjectID: p.ID,
					StepKey:   args[0],
					Inputs:    inputs,
					ActorID:   actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "input", nil, "input as key=value (repeatable)")
	cmd.Flags().StringVar(&raw, "inputs", "", "inputs as a JSON object")
	return cmd
}

func stepCompleteCmd() *cobra.Command {
	var pairs []string
	var raw, output, outputFile string
	cmd := &cobra.Command{
		Use:   "complete <key>",
		Short: "Complete a step with an output you already have",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputFile != "" {
				b, err := os.ReadFile(outputFile)
				if err != nil {
					return err
				}
				output = string(b)
			}
			if strings.TrimSpace(output) == "" {
				return fmt.Errorf("--output or --output-file is required")
			}
			var inputs map[string]any
			if len(pairs) > 0 || raw != "" {
				var err error
				if inputs, err = parseInputs(pairs, raw); err != nil {
					return err
				}
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				st, err := e.CompleteStep(ctx, engine.StepCompleteOptions{
					ProjectID: p.ID,
					StepKey:   args[0],
					Inputs:    inputs,
					Output:    json.RawMessage(output),
					ActorID:   actorID(),
				})
				if err != nil {
					return err
				}
				fmt.Printf("Step %s completed\n", st.StepKey)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "input", nil, "input as key=value (repeatable)")
	cmd.Flags().StringVar(&raw, "inputs", "", "inputs as a JSON object")
	cmd.Flags().StringVar(&output, "output", "", "output JSON")
	cmd.Flags().StringVar(&outputFile, "output-file", "", "read output JSON from file")
	return cmd
}

func stepGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <key>",
		Short: "Generate the step output from saved inputs and complete the step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				st, err := e.GenerateStep(ctx, p.ID, args[0], actorID())
				if err != nil {
					var missing *engine.MissingInputsError
					if errors.As(err, &missing) {
						return fmt.Errorf("%w; save them with vl step save %s --input key=value", err, args[0])
					}
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
}
