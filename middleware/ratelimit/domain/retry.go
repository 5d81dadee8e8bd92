package domain

import (
	"fmt"
	"math"
	"time"
)

// RetryPolicy controla o backoff exponencial entre tentativas rejeitadas.
type RetryPolicy struct {
	Enabled        bool
	MaxRetries     int
	InitialBackoff time.Duration
	Multiplier     float64
	// MaxBackoff limita cada espera. 0 = sem limite.
	MaxBackoff time.Duration
	// HonorRetryAfter usa max(backoff(n), retry_after) quando retry_after é finito.
	HonorRetryAfter bool
}

// DefaultRetryPolicy: 3 retentativas, 1s inicial, multiplicador 2.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Enabled:         true,
		MaxRetries:      3,
		InitialBackoff:  time.Second,
		Multiplier:      2,
		HonorRetryAfter: true,
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0, got %d", ErrInvalidConfig, p.MaxRetries)
	}
	if p.InitialBackoff < 0 {
		return fmt.Errorf("%w: initial backoff must be >= 0, got %s", ErrInvalidConfig, p.InitialBackoff)
	}
	if p.Multiplier < 1 || math.IsNaN(p.Multiplier) {
		return fmt.Errorf("%w: backoff multiplier must be >= 1, got %v", ErrInvalidConfig, p.Multiplier)
	}
	if p.MaxBackoff < 0 {
		return fmt.Errorf("%w: max backoff must be >= 0, got %s", ErrInvalidConfig, p.MaxBackoff)
	}
	return nil
}

// Backoff retorna initial * multiplier^(n-1) para a n-ésima retentativa (n >= 1).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(n-1))
	if math.IsInf(d, 0) || d >= float64(math.MaxInt64) {
		d = float64(math.MaxInt64)
	}
	out := time.Duration(d)
	if p.MaxBackoff > 0 && out > p.MaxBackoff {
		return p.MaxBackoff
	}
	return out
}

// RetryContext é o estado efêmero de uma chamada embrulhada.
// Nasce no começo da chamada e morre no fim; nunca é compartilhado.
type RetryContext struct {
	// Attempt é a tentativa corrente (0-based).
	Attempt int
	Policy  RetryPolicy
}

func (p RetryPolicy) NewContext() *RetryContext {
	return &RetryContext{Policy: p}
}

// Exhausted indica se a tentativa corrente era a última permitida.
func (rc *RetryContext) Exhausted() bool {
	if !rc.Policy.Enabled {
		return true
	}
	return rc.Attempt >= rc.Policy.MaxRetries
}

// Next avança para a próxima tentativa e devolve quanto dormir antes dela.
func (rc *RetryContext) Next(retryAfter time.Duration) time.Duration {
	rc.Attempt++
	d := rc.Policy.Backoff(rc.Attempt)
	if rc.Policy.HonorRetryAfter && retryAfter != NoRefill && retryAfter > d {
		d = retryAfter
		if rc.Policy.MaxBackoff > 0 && d > rc.Policy.MaxBackoff {
			d = rc.Policy.MaxBackoff
		}
	}
	return d
}
