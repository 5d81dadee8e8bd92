package domain

import (
	"errors"
	"fmt"
	"time"
)

// Erros sentinela. Use errors.Is, pois podem vir embrulhados com contexto.
var (
	// ErrRateLimited: rejeição esperada, recuperável esperando.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrStoreUnavailable: falha de infraestrutura no store compartilhado.
	ErrStoreUnavailable = errors.New("bucket store unavailable")

	ErrUnknownService = errors.New("unknown service")
	ErrInvalidCost    = errors.New("invalid token cost")
	ErrResetDisabled  = errors.New("reset is disabled")
	ErrInvalidConfig  = errors.New("invalid rate limit config")
)

// RateLimitExceededError carrega o serviço limitado e o último retry_after conhecido.
type RateLimitExceededError struct {
	Service    Service
	RetryAfter time.Duration
	Remaining  float64
	// Attempts é o número de tentativas feitas (1 para um acquire simples).
	Attempts int
}

func (e *RateLimitExceededError) Error() string {
	retry := "never"
	if e.RetryAfter != NoRefill {
		retry = e.RetryAfter.String()
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("rate limit exceeded for %q after %d attempts (retry after %s)", e.Service, e.Attempts, retry)
	}
	return fmt.Sprintf("rate limit exceeded for %q (retry after %s)", e.Service, retry)
}

func (e *RateLimitExceededError) Is(target error) bool { return target == ErrRateLimited }

// StoreUnavailableError embrulha a falha do store; casa com ErrStoreUnavailable e com a causa.
type StoreUnavailableError struct {
	Service Service
	Op      string
	Err     error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("bucket store unavailable (%s %q): %v", e.Op, e.Service, e.Err)
}

func (e *StoreUnavailableError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// IsRateLimited devolve o erro tipado se err for (ou embrulhar) uma rejeição.
func IsRateLimited(err error) (*RateLimitExceededError, bool) {
	var rle *RateLimitExceededError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
