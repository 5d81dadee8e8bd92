// Package application contém os casos de uso do rate limit de saída.
//
// Ele depende apenas do pacote domain e não conhece net/http nem Redis.
//   - Limiter.Acquire: uma tentativa atômica, devolve Permit ou RateLimitExceededError
//   - Retrier: backoff exponencial em volta do Limiter (Do, WithRateLimit)
//   - StatusReporter: leitura sem efeito colateral
//   - Admin.Reset: só quando habilitado por configuração
package application
