package domain

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy: политика повторных попыток шага.
//
// Задержка перед попыткой n (n >= 1):
//
//	base = ExponentialBackoffSeconds * 2^(n-1), если ExponentialBackoffSeconds > 0
//	base = FixedDelaySeconds, иначе
//	base = min(base, MaxDelaySeconds), если MaxDelaySeconds > 0
//	delay = base + rand[0, base*JitterFactor]
type RetryPolicy struct {
	// Attempts: сколько раз можно повторить шаг после ошибки.
	Attempts int `json:"attempts" yaml:"attempts"`

	// FixedDelaySeconds: фиксированная задержка между попытками.
	FixedDelaySeconds int `json:"fixed_delay_seconds" yaml:"fixedDelaySeconds"`

	// ExponentialBackoffSeconds: база экспоненциальной задержки.
	// Если > 0, FixedDelaySeconds игнорируется.
	ExponentialBackoffSeconds int `json:"exponential_backoff_seconds,omitempty" yaml:"exponentialBackoffSeconds"`

	// JitterFactor: доля случайного разброса, от 0.0 до 1.0.
	JitterFactor float64 `json:"jitter_factor,omitempty" yaml:"jitterFactor"`

	// MaxDelaySeconds: верхняя граница базовой задержки (0 = без ограничения).
	MaxDelaySeconds int `json:"max_delay_seconds,omitempty" yaml:"maxDelaySeconds"`
}

// NewRetryPolicy создаёт и валидирует RetryPolicy.
func NewRetryPolicy(attempts, fixedDelay, exponentialBackoff int, jitter float64, maxDelay int) (RetryPolicy, error) {
	p := RetryPolicy{
		Attempts:                  attempts,
		FixedDelaySeconds:         fixedDelay,
		ExponentialBackoffSeconds: exponentialBackoff,
		JitterFactor:              jitter,
		MaxDelaySeconds:           maxDelay,
	}
	if err := p.Validate(); err != nil {
		return RetryPolicy{}, err
	}
	return p, nil
}

// Validate проверяет границы всех полей.
func (p RetryPolicy) Validate() error {
	switch {
	case p.Attempts < 0:
		return fmt.Errorf("%w: attempts must be >= 0, got %d", ErrInvalidRetryPolicy, p.Attempts)
	case p.FixedDelaySeconds < 0:
		return fmt.Errorf("%w: fixed delay must be >= 0, got %d", ErrInvalidRetryPolicy, p.FixedDelaySeconds)
	case p.ExponentialBackoffSeconds < 0:
		return fmt.Errorf("%w: exponential backoff must be >= 0, got %d", ErrInvalidRetryPolicy, p.ExponentialBackoffSeconds)
	case math.IsNaN(p.JitterFactor) || p.JitterFactor < 0 || p.JitterFactor > 1:
		return fmt.Errorf("%w: jitter factor must be within [0, 1], got %v", ErrInvalidRetryPolicy, p.JitterFactor)
	case p.MaxDelaySeconds < 0:
		return fmt.Errorf("%w: max delay must be >= 0, got %d", ErrInvalidRetryPolicy, p.MaxDelaySeconds)
	}
	return nil
}

// DelayForAttempt возвращает задержку перед попыткой n.
func (p RetryPolicy) DelayForAttempt(n int) (time.Duration, error) {
	return p.delayForAttempt(n, rand.Float64)
}

func (p RetryPolicy) delayForAttempt(n int, random func() float64) (time.Duration, error) {
	if n < 1 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidAttempt, n)
	}

	base := p.baseDelaySeconds(n)

	delay := base
	if p.JitterFactor > 0 && base > 0 {
		delay += random() * base * p.JitterFactor
	}

	return time.Duration(delay * float64(time.Second)), nil
}

// baseDelaySeconds: задержка без jitter, с учётом MaxDelaySeconds.
func (p RetryPolicy) baseDelaySeconds(n int) float64 {
	var base float64
	if p.ExponentialBackoffSeconds > 0 {
		base = float64(p.ExponentialBackoffSeconds) * math.Pow(2, float64(n-1))
	} else {
		base = float64(p.FixedDelaySeconds)
	}

	if p.MaxDelaySeconds > 0 && base > float64(p.MaxDelaySeconds) {
		base = float64(p.MaxDelaySeconds)
	}
	return base
}

// CanRetry возвращает true, если после attempts неудач допустима ещё попытка.
func (p RetryPolicy) CanRetry(attempts int) bool {
	return attempts <= p.Attempts
}
