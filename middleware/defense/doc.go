// Package defense fornece o adapter HTTP (net/http) do pipeline de defesa
// de requisições: inspeciona cada requisição antes do roteamento e decide
// permitir, sanitizar, limitar ou rejeitar.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: compositor de decisão e aquisição de vaga, sem net/http
//   - infra: implementações concretas (scanner de padrões, stores de bucket
//     em memória e Redis, circuit breaker, amostrador adaptativo, tracker de
//     violações, recorders), detalhes de infraestrutura
//   - defense (este pacote): middleware HTTP + extração de chave/categoria/
//     origem + tradução da decisão para status/headers + endpoint de report
//
// Fluxo no gateway:
//
//  1. Extrai principal (user autenticado ou IP), categoria e origem
//  2. Monta o snapshot da requisição (body limitado, query, headers)
//  3. Chama o compositor: blocklist → ameaça → rate limit → breaker
//  4. Se rejeitado, responde 400/403/429/503 com corpo JSON estável
//  5. Se permitido, anexa headers de rate limit e segurança, reescreve o
//     conteúdo sanitizado quando houver, e chama o próximo handler
//  6. O resultado do downstream alimenta o circuit breaker da categoria
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o
// comportamento, como POLICY_FILE, REDIS_ADDR e MAX_INFLIGHT.
package defense
