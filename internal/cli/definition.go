package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/loader"
)

// NewDefinitionCmd создаёт группу команд для просмотра определений.
func NewDefinitionCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "definition",
		Aliases: []string{"def"},
		Short:   "Inspect workflow definitions",
	}

	cmd.AddCommand(
		newDefinitionListCmd(envFn, outputFn),
		newDefinitionShowCmd(envFn, outputFn),
	)

	return cmd
}

func newDefinitionListCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded definitions (all versions)",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			var defs []*domain.WorkflowDefinition
			for _, id := range env.Definitions.IDs() {
				defs = append(defs, env.Definitions.Find(id)...)
			}

			headers := []string{"ID", "VERSION", "NAME", "STEPS", "INITIAL"}
			rows := make([][]string, len(defs))
			for i, d := range defs {
				rows[i] = []string{d.ID, d.Version, d.Name, strconv.Itoa(len(d.Steps)), d.InitialStepID}
			}

			out.Print(headers, rows, defs)
			return nil
		},
	}
}

// definitionReport: JSON-представление definition show.
type definitionReport struct {
	Definition *domain.WorkflowDefinition `json:"definition"`
	Graph      loader.GraphReport         `json:"graph"`
}

func newDefinitionShowCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show definition steps and transition graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			def, err := env.Definitions.Get(args[0], version)
			if err != nil {
				return err
			}
			report := loader.Analyze(def)

			if out.IsJSON() {
				out.JSON(definitionReport{Definition: def, Graph: report})
				return nil
			}

			out.Fields([][2]string{
				{"ID", def.ID},
				{"Version", def.Version},
				{"Name", def.Name},
				{"Initial step", def.InitialStepID},
				{"Unreachable", joinOrDash(report.Unreachable)},
				{"Terminal", joinOrDash(report.Terminal)},
				{"Waits for signals", joinOrDash(report.EventSteps)},
				{"Has cycle", strconv.FormatBool(report.HasCycle)},
			})

			out.Section("Steps")
			rows := make([][]string, 0, len(def.StepOrder))
			for _, id := range def.StepOrder {
				step := def.Steps[id]
				rows = append(rows, []string{
					step.ID,
					describeActions(step.Actions),
					describeTransitions(step.Transitions),
					dashIfEmpty(step.Timeout),
					describeRetry(step.RetryPolicy),
				})
			}
			out.Table([]string{"STEP", "ACTIONS", "TRANSITIONS", "TIMEOUT", "RETRY"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Definition version (latest if not specified)")

	return cmd
}

func describeActions(list []domain.ActionDefinition) string {
	names := make([]string, len(list))
	for i, a := range list {
		names[i] = a.Service
		if names[i] == "" {
			names[i] = "<func>"
		}
	}
	return joinOrDash(names)
}

func describeTransitions(list []domain.TransitionDefinition) string {
	parts := make([]string, len(list))
	for i, t := range list {
		switch {
		case t.Event != "":
			parts[i] = "on " + t.Event + " -> " + t.Target
		case t.Condition != "":
			parts[i] = t.Target + " if " + t.Condition
		case t.Predicate != nil:
			parts[i] = t.Target + " if <func>"
		default:
			parts[i] = t.Target
		}
	}
	return joinOrDash(parts)
}

func describeRetry(p *domain.RetryPolicy) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(p.Attempts) + "x"
}

func joinOrDash(list []string) string {
	if len(list) == 0 {
		return "-"
	}
	return strings.Join(list, ", ")
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
