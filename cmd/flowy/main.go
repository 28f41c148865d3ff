// Flowy CLI: инструмент командной строки для запуска экземпляров
// workflow и управления ими.
//
// Использование:
//
//	flowy [--config FILE] [-o table|json] <command> <subcommand> [flags]
//
// Команды:
//
//	definition  Просмотр определений
//	instance    Управление экземплярами
//	sweep       Проход по FAILED экземплярам
package main

import (
	"fmt"
	"os"

	"github.com/shaiso/Flowy/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", cli.UserMessage(err))
		os.Exit(1)
	}
}
