package loader

import "github.com/shaiso/Flowy/internal/domain"

// GraphReport: структура графа переходов определения.
//
// В отличие от DAG, граф workflow может содержать циклы (повтор шага
// по условию), поэтому цикл: информация, а не ошибка.
type GraphReport struct {
	// Reachable: шаги, достижимые из начального, в порядке обхода в ширину.
	Reachable []string

	// Unreachable: шаги, в которые нельзя попасть из начального.
	Unreachable []string

	// Terminal: шаги без исходящих переходов (завершают workflow).
	Terminal []string

	// EventSteps: шаги, ожидающие сигналов.
	EventSteps []string

	// HasCycle: в графе есть цикл.
	HasCycle bool
}

// Analyze строит отчёт о графе переходов.
func Analyze(def *domain.WorkflowDefinition) GraphReport {
	var report GraphReport

	// Обход в ширину от начального шага
	visited := make(map[string]bool, len(def.Steps))
	queue := []string{def.InitialStepID}
	visited[def.InitialStepID] = true

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		report.Reachable = append(report.Reachable, id)

		step, ok := def.Step(id)
		if !ok {
			continue
		}
		for _, t := range step.Transitions {
			if !visited[t.Target] {
				visited[t.Target] = true
				queue = append(queue, t.Target)
			}
		}
	}

	for _, step := range def.OrderedSteps() {
		if !visited[step.ID] {
			report.Unreachable = append(report.Unreachable, step.ID)
		}
		if step.IsTerminal() {
			report.Terminal = append(report.Terminal, step.ID)
		}
		if step.HasEventTransitions() {
			report.EventSteps = append(report.EventSteps, step.ID)
		}
	}

	report.HasCycle = hasCycle(def)
	return report
}

// hasCycle ищет цикл обходом в глубину с раскраской вершин.
func hasCycle(def *domain.WorkflowDefinition) bool {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(def.Steps))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		step, ok := def.Step(id)
		if ok {
			for _, t := range step.Transitions {
				switch color[t.Target] {
				case grey:
					return true
				case white:
					if visit(t.Target) {
						return true
					}
				}
			}
		}
		color[id] = black
		return false
	}

	for _, id := range def.StepOrder {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}
