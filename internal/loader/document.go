package loader

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Flowy/internal/domain"
)

// Document: структура файла определения (YAML или JSON).
//
//	id: order-processing
//	version: 1.2.0
//	initialStepId: validate
//	steps:
//	  - id: validate
//	    actions:
//	      - service: validate_order
//	    transitions:
//	      - target: charge
//	        condition: "{{ gt .amount 0 }}"
//	    retryPolicy: {attempts: 3, fixedDelaySeconds: 5}
//	    timeout: PT5M
type Document struct {
	ID                   string         `yaml:"id"`
	Version              string         `yaml:"version"`
	Name                 string         `yaml:"name"`
	Description          string         `yaml:"description"`
	InitialStepID        string         `yaml:"initialStepId"`
	InitialContextSchema map[string]any `yaml:"initialContextSchema"`
	Steps                []StepDocument `yaml:"steps"`
}

// StepDocument: шаг в файле определения.
type StepDocument struct {
	ID          string               `yaml:"id"`
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Type        string               `yaml:"type"`
	Actions     []ActionDocument     `yaml:"actions"`
	Transitions []TransitionDocument `yaml:"transitions"`
	RetryPolicy *domain.RetryPolicy  `yaml:"retryPolicy"`
	Timeout     string               `yaml:"timeout"`
}

// ActionDocument: действие: service или callable (оба: имя в реестре действий).
type ActionDocument struct {
	Service     string         `yaml:"service"`
	Callable    string         `yaml:"callable"`
	Parameters  map[string]any `yaml:"parameters"`
	Description string         `yaml:"description"`
}

// TransitionDocument: переход в файле определения.
type TransitionDocument struct {
	Target    string `yaml:"target"`
	Condition string `yaml:"condition"`
	Event     string `yaml:"event"`
}

// checkRequired проверяет обязательные ключи до декодирования в структуры,
// чтобы отличать отсутствующий ключ от пустого значения.
func checkRequired(source string, root *yaml.Node) error {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return NewLoadError(source, "", "document must be a mapping", nil)
	}

	for _, key := range []string{"id", "version", "steps", "initialStepId"} {
		if lookup(doc, key) == nil {
			return NewLoadError(source, key, "required key is missing", ErrMissingKey)
		}
	}

	steps := lookup(doc, "steps")
	if steps.Kind != yaml.SequenceNode || len(steps.Content) == 0 {
		return NewLoadError(source, "steps", "must be a non-empty list", nil)
	}

	for i, step := range steps.Content {
		field := fmt.Sprintf("steps[%d]", i)
		if step.Kind != yaml.MappingNode {
			return NewLoadError(source, field, "step must be a mapping", nil)
		}
		if lookup(step, "id") == nil {
			return NewLoadError(source, field+".id", "required key is missing", ErrMissingKey)
		}

		if actions := lookup(step, "actions"); actions != nil && actions.Kind == yaml.SequenceNode {
			for j, action := range actions.Content {
				if lookup(action, "service") == nil && lookup(action, "callable") == nil {
					return NewLoadError(source, fmt.Sprintf("%s.actions[%d]", field, j),
						"either service or callable is required", ErrMissingKey)
				}
			}
		}

		if transitions := lookup(step, "transitions"); transitions != nil && transitions.Kind == yaml.SequenceNode {
			for j, tr := range transitions.Content {
				if lookup(tr, "target") == nil {
					return NewLoadError(source, fmt.Sprintf("%s.transitions[%d].target", field, j),
						"required key is missing", ErrMissingKey)
				}
			}
		}
	}

	return nil
}

// lookup возвращает значение ключа в mapping-узле или nil.
func lookup(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// toDefinition превращает документ в валидированное определение.
func (d *Document) toDefinition() (*domain.WorkflowDefinition, error) {
	steps := make([]domain.StepDefinition, 0, len(d.Steps))
	for _, s := range d.Steps {
		step := domain.StepDefinition{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Type:        s.Type,
			RetryPolicy: s.RetryPolicy,
			Timeout:     s.Timeout,
		}
		for _, a := range s.Actions {
			ref := a.Service
			if ref == "" {
				ref = a.Callable
			}
			step.Actions = append(step.Actions, domain.ActionDefinition{
				Service:     ref,
				Parameters:  a.Parameters,
				Description: a.Description,
			})
		}
		for _, t := range s.Transitions {
			step.Transitions = append(step.Transitions, domain.TransitionDefinition{
				Target:    t.Target,
				Condition: t.Condition,
				Event:     t.Event,
			})
		}
		steps = append(steps, step)
	}

	return domain.NewWorkflowDefinition(d.ID, d.Version, d.InitialStepID, steps,
		domain.WithName(d.Name),
		domain.WithDescription(d.Description),
		domain.WithInitialContextSchema(d.InitialContextSchema),
	)
}
