package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Flowy/internal/domain"
)

// ActionDelay: имя встроенного действия задержки.
const ActionDelay = "delay"

// DelayAction ждёт заданное время. Поддерживает отмену через context.
//
// Параметры:
//   - duration (string): ISO-8601 длительность, например "PT30S"
//   - duration_sec (number): длительность в секундах, если duration не задан (default: 1)
//
// Длинные ожидания лучше выражать таймаутом шага или повтором по
// RetryPolicy: delay держит воркер занятым.
type DelayAction struct{}

// NewDelayAction создаёт DelayAction.
func NewDelayAction() *DelayAction {
	return &DelayAction{}
}

// Name возвращает "delay".
func (a *DelayAction) Name() string {
	return ActionDelay
}

// Execute выполняет задержку.
func (a *DelayAction) Execute(ctx context.Context, _ *domain.Context, params map[string]any) error {
	d, err := delayDuration(params)
	if err != nil {
		return err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrActionCancelled, ctx.Err())
	}
}

func delayDuration(params map[string]any) (time.Duration, error) {
	if s := GetString(params, "duration"); s != "" {
		d, err := domain.ParseISODuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, ActionDelay, err)
		}
		return d, nil
	}

	seconds := 1.0
	switch v := params["duration_sec"].(type) {
	case float64:
		seconds = v
	case int:
		seconds = float64(v)
	case int64:
		seconds = float64(v)
	}
	if seconds <= 0 {
		seconds = 1
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
