// Package ratelimit liga o rate limit de saída ao net/http.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (acquire, retry com backoff, status, reset) sem net/http
//   - infra: implementações concretas (Redis, memória, OpenTelemetry, semáforo)
//   - config: leitura das cotas e flags (TOML + env)
//   - ratelimit (este pacote): Transport de saída, handlers de status/reset e Open,
//     que monta tudo a partir da config
//
// Fluxo numa chamada de saída:
//
//  1. Descobre o serviço pelo host da requisição (ServiceFunc)
//  2. Ocupa uma vaga de concorrência do serviço, se houver limite
//  3. Pede um permit ao Retrier (dorme com backoff enquanto rejeitado)
//  4. Faz a chamada real pelo RoundTripper base
package ratelimit
