package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Flowy/internal/config"
	"github.com/shaiso/Flowy/internal/telemetry"
)

// NewRootCmd создаёт корневую команду flowy.
//
// Конфигурация и хранилище открываются при первом обращении команды
// к Env и закрываются после её выполнения.
func NewRootCmd(version string) *cobra.Command {
	var configPath string
	var logLevel string
	var format string

	var env *Env
	envFn := func() (*Env, error) {
		if env != nil {
			return env, nil
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger := telemetry.NewLogger(os.Stderr, logLevel, "text")
		env, err = NewEnv(context.Background(), cfg, logger)
		return env, err
	}
	outputFn := func() *Output { return NewOutput(format) }

	root := newRoot(envFn, outputFn, &format)
	root.Version = version
	root.PersistentPostRun = func(*cobra.Command, []string) {
		if env != nil {
			env.Close()
		}
	}

	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("FLOWY_CONFIG"), "Config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level for engine events (debug, info, warn, error)")

	return root
}

// newRoot собирает дерево команд вокруг переданных фабрик.
func newRoot(envFn func() (*Env, error), outputFn func() *Output, format *string) *cobra.Command {
	root := &cobra.Command{
		Use:           "flowy",
		Short:         "Flowy: durable workflow engine CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return ValidateFormat(*format)
		},
	}

	root.PersistentFlags().StringVarP(format, "output", "o", FormatTable, "Output format (table, json)")

	root.AddCommand(
		NewDefinitionCmd(envFn, outputFn),
		NewInstanceCmd(envFn, outputFn),
		NewSweepCmd(envFn, outputFn),
	)

	return root
}
