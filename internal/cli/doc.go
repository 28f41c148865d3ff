// Package cli реализует инструмент командной строки flowy.
//
// # Обзор
//
// CLI работает с хранилищем экземпляров напрямую (STORE_DRIVER),
// без сервера: запуск экземпляра выполняет его первый цикл в процессе
// CLI, дальнейшие циклы подхватывает flowy-worker.
//
// # Ключевые компоненты
//
// ## Env
//
// Зависимости команд: хранилище, реестр определений (DEFINITIONS_DIR),
// engine.Service со встроенными действиями. Создаётся лениво, после
// разбора флагов.
//
//	env, err := cli.NewEnv(ctx, cfg, logger)
//	defer env.Close()
//
// ## Output
//
// Форматирование вывода, флаг --output:
//   - table (text/tabwriter): по умолчанию
//   - json (json.Encoder с отступами)
//
// Данные выводятся в stdout, сообщения (Success/Error): в stderr.
// Это позволяет использовать pipe: flowy instance list -o json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - definition: list, show
//   - instance: start, show, list, failed, pause, resume, cancel, retry,
//     signal, proceed
//   - sweep: однократный проход по FAILED экземплярам
//
// Каждая группа создаётся фабричной функцией (NewInstanceCmd и т.д.),
// принимающей envFn и outputFn.
package cli
