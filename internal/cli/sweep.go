package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Flowy/internal/scheduler"
)

// NewSweepCmd создаёт команду однократного прохода по FAILED экземплярам.
//
// Это тот же проход, что воркер выполняет по расписанию SWEEP_SCHEDULE.
func NewSweepCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	var autoRetry bool
	var definitionID string
	var maxAttempts, maxAutoRetries, limit int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Find failed instances once and optionally retry them",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			out := outputFn()

			cfg := scheduler.Config{
				Store:          env.Store,
				AutoRetry:      autoRetry,
				DefinitionID:   definitionID,
				MaxAttempts:    maxAttempts,
				MaxAutoRetries: maxAutoRetries,
				BatchSize:      limit,
			}
			if autoRetry {
				cfg.Retrier = env.Service
			}

			sweeper, err := scheduler.New(cfg)
			if err != nil {
				return err
			}
			result, err := sweeper.Tick(cmd.Context())
			if err != nil {
				return err
			}

			if autoRetry {
				out.Success(fmt.Sprintf("Retried %d of %d failed instances", result.Retried, result.Candidates))
			}
			out.Print(
				[]string{"CANDIDATES", "RETRIED", "EXHAUSTED", "ERRORS"},
				[][]string{{
					strconv.Itoa(result.Candidates),
					strconv.Itoa(result.Retried),
					strconv.Itoa(result.Exhausted),
					strconv.Itoa(result.Errors),
				}},
				result,
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoRetry, "auto-retry", false, "Retry found instances instead of only counting them")
	cmd.Flags().StringVar(&definitionID, "definition", "", "Filter by definition ID")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", scheduler.DefaultMaxAttempts, "Only instances with fewer retry attempts")
	cmd.Flags().IntVar(&maxAutoRetries, "max-auto-retries", scheduler.DefaultMaxAutoRetries, "Skip instances retried this many times")
	cmd.Flags().IntVar(&limit, "limit", scheduler.DefaultBatchSize, "Maximum number of instances per sweep")

	return cmd
}
