package domain

// Camada de domínio do rate limit.
//
// Algoritmo token bucket puro: recebe o estado anterior, o relógio e a
// configuração, e devolve o novo estado. Quem garante atomicidade entre
// processos é o BucketStore (ver infra), nunca este arquivo.

import (
	"fmt"
	"math"
	"time"
)

// Service identifica um serviço externo com cota própria (ex: "apify", "rss").
type Service string

// NoRefill é o RetryAfter/RefillIn reportado quando o bucket nunca vai regenerar
// tokens suficientes (capacidade 0, período infinito ou custo maior que a capacidade).
const NoRefill = time.Duration(math.MaxInt64)

// BucketConfig é a cota configurada de um serviço: MaxCalls chamadas por Period.
//
// Period == 0 significa período infinito: cota fixa, sem regeneração.
type BucketConfig struct {
	MaxCalls int64
	Period   time.Duration
}

// Capacity é o máximo de tokens do bucket.
func (c BucketConfig) Capacity() float64 {
	if c.MaxCalls <= 0 {
		return 0
	}
	return float64(c.MaxCalls)
}

// RefillRate retorna tokens por segundo (MaxCalls / Period).
func (c BucketConfig) RefillRate() float64 {
	if c.MaxCalls <= 0 || c.Period <= 0 {
		return 0
	}
	return float64(c.MaxCalls) / c.Period.Seconds()
}

// TTL é o tempo de inatividade após o qual a chave pode expirar (2 × Period).
// Retorna 0 quando o bucket não deve expirar.
func (c BucketConfig) TTL() time.Duration {
	if c.Period <= 0 {
		return 0
	}
	return 2 * c.Period
}

func (c BucketConfig) Validate() error {
	if c.MaxCalls < 0 {
		return fmt.Errorf("%w: max calls must be >= 0, got %d", ErrInvalidConfig, c.MaxCalls)
	}
	if c.Period < 0 {
		return fmt.Errorf("%w: period must be >= 0, got %s", ErrInvalidConfig, c.Period)
	}
	return nil
}

// Bucket é o estado persistido de um serviço.
type Bucket struct {
	Tokens       float64
	LastRefillAt time.Time
}

// FullBucket cria um bucket cheio, usado na primeira utilização de um serviço.
func FullBucket(cfg BucketConfig, now time.Time) Bucket {
	return Bucket{Tokens: cfg.Capacity(), LastRefillAt: now}
}

// Project calcula os tokens disponíveis em `now` sem consumir nada:
// min(capacity, tokens + elapsed*refillRate). Elapsed negativo (clock skew) vira 0.
func Project(b Bucket, cfg BucketConfig, now time.Time) float64 {
	capacity := cfg.Capacity()
	if capacity <= 0 {
		return 0
	}

	elapsed := now.Sub(b.LastRefillAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	tokens := b.Tokens + elapsed*cfg.RefillRate()
	if math.IsNaN(tokens) || tokens < 0 {
		return 0
	}
	return math.Min(capacity, tokens)
}

// RefillAndTryConsume aplica refill e depois tenta consumir `cost` tokens.
//
// Na rejeição os tokens também ficam recarregados, para que a próxima checagem
// não seja penalizada duas vezes. LastRefillAt nunca anda para trás: um processo
// com relógio atrasado não pode provocar refill em dobro.
func RefillAndTryConsume(b Bucket, cfg BucketConfig, now time.Time, cost float64) (Bucket, bool, error) {
	if cost < 0 || math.IsNaN(cost) {
		return b, false, fmt.Errorf("%w: %v", ErrInvalidCost, cost)
	}

	refilled := Project(b, cfg, now)
	last := b.LastRefillAt
	if now.After(last) {
		last = now
	}

	if cfg.Capacity() <= 0 || refilled < cost {
		return Bucket{Tokens: refilled, LastRefillAt: last}, false, nil
	}
	return Bucket{Tokens: refilled - cost, LastRefillAt: last}, true, nil
}

// RetryAfter estima quanto esperar até haver `cost` tokens, dado o saldo atual:
// max(0, (cost - remaining) / refillRate), com folga de 1µs para absorver erro de
// ponto flutuante (dormir exatamente esse tempo basta para um consumidor sozinho).
//
// É uma estimativa: outros consumidores podem pegar os tokens antes.
func RetryAfter(cfg BucketConfig, cost, remaining float64) time.Duration {
	deficit := cost - remaining
	if deficit <= 0 {
		return 0
	}

	rate := cfg.RefillRate()
	if rate <= 0 || cost > cfg.Capacity() {
		return NoRefill
	}

	micros := math.Floor(deficit/rate*1e6) + 1
	if micros >= float64(NoRefill/time.Microsecond) {
		return NoRefill
	}
	return time.Duration(micros) * time.Microsecond
}
