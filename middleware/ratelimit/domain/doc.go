// Package domain define contratos e tipos de domínio para o rate limit distribuído
// de chamadas de saída (token bucket compartilhado entre processos).
//
// Este pacote não depende de net/http, Redis nem de implementações concretas.
// Aqui ficam o algoritmo puro do token bucket, o cálculo de backoff e a taxonomia
// de erros, para permitir testes de unidade puros e desacoplar as regras de
// negócio dos detalhes de infraestrutura.
package domain
