package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/engine"
	"github.com/shaiso/Flowy/internal/repo"
)

// NewInstanceCmd создаёт группу команд для управления экземплярами.
func NewInstanceCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"inst"},
		Short:   "Manage workflow instances",
	}

	cmd.AddCommand(
		newInstanceStartCmd(envFn, outputFn),
		newInstanceShowCmd(envFn, outputFn),
		newInstanceListCmd(envFn, outputFn),
		newInstanceFailedCmd(envFn, outputFn),
		newInstanceSignalCmd(envFn, outputFn),
		newInstanceProceedCmd(envFn, outputFn),
		newInstanceActionCmd(envFn, outputFn, "pause", "Pause a running instance", (*engine.Service).Pause),
		newInstanceActionCmd(envFn, outputFn, "resume", "Resume a paused instance", (*engine.Service).Resume),
		newInstanceActionCmd(envFn, outputFn, "cancel", "Cancel an instance", (*engine.Service).Cancel),
		newInstanceActionCmd(envFn, outputFn, "retry", "Retry the failed step of an instance", (*engine.Service).RetryFailedStep),
	)

	return cmd
}

var instanceHeaders = []string{"ID", "DEFINITION", "VERSION", "STATUS", "STEP", "BUSINESS_KEY", "UPDATED"}

func instanceRow(inst *domain.WorkflowInstance) []string {
	return []string{
		inst.ID.String(),
		inst.DefinitionID,
		inst.DefinitionVersion,
		string(inst.Status),
		dashIfEmpty(inst.CurrentStepID),
		dashIfEmpty(inst.BusinessKey),
		inst.UpdatedAt.Format(time.RFC3339),
	}
}

func printInstances(out *Output, list []*domain.WorkflowInstance) {
	rows := make([][]string, len(list))
	for i, inst := range list {
		rows[i] = instanceRow(inst)
	}
	if list == nil {
		list = []*domain.WorkflowInstance{}
	}
	out.Print(instanceHeaders, rows, list)
}

func newInstanceStartCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	var version string
	var businessKey string
	var values []string
	var contextFile string

	cmd := &cobra.Command{
		Use:   "start DEFINITION_ID",
		Short: "Start a new instance and run its first cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			data := make(map[string]any)
			if contextFile != "" {
				raw, err := os.ReadFile(contextFile)
				if err != nil {
					return fmt.Errorf("read context file: %w", err)
				}
				if err := json.Unmarshal(raw, &data); err != nil {
					return fmt.Errorf("parse context file: %w", err)
				}
			}
			if err := parseKeyValues(values, data); err != nil {
				return err
			}

			inst, err := env.Service.Start(cmd.Context(), engine.StartRequest{
				DefinitionID: args[0],
				Version:      version,
				Context:      data,
				BusinessKey:  businessKey,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance started: %s", inst.ID))
			out.Print(instanceHeaders, [][]string{instanceRow(inst)}, inst)
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Definition version (latest if not specified)")
	cmd.Flags().StringVar(&businessKey, "business-key", "", "Business key for correlation")
	cmd.Flags().StringArrayVar(&values, "set", nil, "Context value as KEY=VALUE, VALUE may be JSON (repeatable)")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "JSON file with the initial context")

	return cmd
}

func newInstanceShowCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	var definitionID string

	cmd := &cobra.Command{
		Use:   "show ID|BUSINESS_KEY",
		Short: "Show instance details and history",
		Long:  "Show an instance by ID, or by business key when --definition is set.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			var inst *domain.WorkflowInstance
			if definitionID != "" {
				inst, err = env.Service.FindByBusinessKey(cmd.Context(), definitionID, args[0])
			} else {
				var id uuid.UUID
				if id, err = parseID(args[0]); err != nil {
					return err
				}
				inst, err = env.Service.GetInstance(cmd.Context(), id)
			}
			if err != nil {
				return err
			}

			if out.IsJSON() {
				out.JSON(inst)
				return nil
			}
			printInstanceDetails(out, inst)
			return nil
		},
	}

	cmd.Flags().StringVar(&definitionID, "definition", "", "Look up by business key within this definition")

	return cmd
}

func printInstanceDetails(out *Output, inst *domain.WorkflowInstance) {
	fields := [][2]string{
		{"ID", inst.ID.String()},
		{"Definition", inst.DefinitionID + "@" + inst.DefinitionVersion},
		{"Status", string(inst.Status)},
		{"Current step", dashIfEmpty(inst.CurrentStepID)},
		{"Business key", dashIfEmpty(inst.BusinessKey)},
		{"Retry attempts", strconv.Itoa(inst.RetryAttempts)},
		{"Waiting for signal", strconv.FormatBool(inst.WaitingForSignal)},
		{"Scheduled at", formatTime(inst.ScheduledAt)},
		{"Created", inst.CreatedAt.Format(time.RFC3339)},
		{"Updated", inst.UpdatedAt.Format(time.RFC3339)},
	}
	if inst.ErrorDetails != "" {
		fields = append(fields, [2]string{"Error", inst.ErrorDetails})
	}
	out.Fields(fields)

	if ctx, err := json.Marshal(inst.Context); err == nil {
		out.Section("Context")
		out.Fields([][2]string{{"data", string(ctx)}})
	}

	out.Section("History")
	rows := make([][]string, len(inst.History))
	for i, h := range inst.History {
		rows[i] = []string{h.Timestamp.Format(time.RFC3339), dashIfEmpty(h.StepID), h.Message}
	}
	out.Table([]string{"TIME", "STEP", "MESSAGE"}, rows)
}

func newInstanceListCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	var status string
	var definitionID string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			st := domain.WorkflowStatus(strings.ToUpper(status))
			if !st.IsValid() {
				return fmt.Errorf("%w: %s", domain.ErrUnknownStatus, status)
			}

			list, err := env.Service.FindInstancesByStatus(cmd.Context(), repo.StatusQuery{
				Status:       st,
				DefinitionID: definitionID,
				Limit:        limit,
				Offset:       offset,
			})
			if err != nil {
				return err
			}

			printInstances(out, list)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", string(domain.StatusRunning), "Status (PENDING, RUNNING, PAUSED, COMPLETED, FAILED, CANCELLED)")
	cmd.Flags().StringVar(&definitionID, "definition", "", "Filter by definition ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newInstanceFailedCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	var definitionID string
	var maxAttempts, limit int

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List failed instances that are candidates for retry",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			list, err := env.Service.FindFailed(cmd.Context(), repo.FailedQuery{
				DefinitionID:     definitionID,
				MaxRetryAttempts: maxAttempts,
				Limit:            limit,
			})
			if err != nil {
				return err
			}

			printInstances(out, list)
			return nil
		},
	}

	cmd.Flags().StringVar(&definitionID, "definition", "", "Filter by definition ID")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 3, "Only instances with fewer retry attempts (0 = no limit)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of results")

	return cmd
}

func newInstanceSignalCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	var values []string

	cmd := &cobra.Command{
		Use:   "signal ID NAME",
		Short: "Deliver a named signal to an instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			payload := make(map[string]any)
			if err := parseKeyValues(values, payload); err != nil {
				return err
			}

			inst, err := env.Service.Signal(cmd.Context(), id, args[1], payload)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Signal %s delivered to %s", args[1], inst.ID))
			out.Print(instanceHeaders, [][]string{instanceRow(inst)}, inst)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&values, "set", nil, "Payload value as KEY=VALUE, VALUE may be JSON (repeatable)")

	return cmd
}

func newInstanceProceedCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "proceed ID",
		Short: "Run one execution cycle of an instance in this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			outcome, err := env.Executor.Proceed(cmd.Context(), id)
			if err != nil && !errors.As(err, new(*engine.ActionError)) {
				return err
			}
			inst, err := env.Service.GetInstance(cmd.Context(), id)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Cycle outcome: %s", outcome))
			out.Print(instanceHeaders, [][]string{instanceRow(inst)}, inst)
			return nil
		},
	}
}

// instanceAction: операция сервиса над одним экземпляром.
type instanceAction func(*engine.Service, context.Context, uuid.UUID) (*domain.WorkflowInstance, error)

func newInstanceActionCmd(envFn func() (*Env, error), outputFn func() *Output, name, short string, action instanceAction) *cobra.Command {
	return &cobra.Command{
		Use:   name + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			inst, err := action(env.Service, cmd.Context(), id)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance %s: %s", inst.ID, inst.Status))
			out.Print(instanceHeaders, [][]string{instanceRow(inst)}, inst)
			return nil
		},
	}
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid instance id %q: %w", s, err)
	}
	return id, nil
}

// parseKeyValues разбирает KEY=VALUE в dst. VALUE, который разбирается
// как JSON (число, bool, объект), сохраняется как JSON, иначе как строка.
func parseKeyValues(pairs []string, dst map[string]any) error {
	for _, kv := range pairs {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid value %q, expected KEY=VALUE", kv)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		dst[key] = value
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
