// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisStore: buckets compartilhados entre processos, atômicos via script Lua
//     (ou WATCH/MULTI no modo CAS)
//   - MemoryStore: buckets de um único processo, com janitor para chaves inativas
//   - RedisStatsStore / MemoryStatsStore / OTelStatsStore: estatísticas das decisões
//   - ServicePools: semáforo simples por serviço para limite de concorrência
package infra
