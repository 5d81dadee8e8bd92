package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"quota-coordinator/middleware/ratelimit/domain"
)

// ServiceFunc decide a qual serviço (cota) uma requisição de saída pertence.
// "" significa sem limite.
type ServiceFunc func(r *http.Request) domain.Service

// DefaultServiceFunc resolve o serviço nesta ordem:
//  1. header `header` na requisição, se configurado e presente
//  2. host exato em `hosts`
//  3. sufixo de domínio em `hosts` (chave "example.com" casa "api.example.com")
//  4. `fallback`
func DefaultServiceFunc(header string, hosts map[string]domain.Service, fallback domain.Service) ServiceFunc {
	norm := make(map[string]domain.Service, len(hosts))
	for h, svc := range hosts {
		norm[strings.ToLower(strings.TrimSpace(h))] = svc
	}

	return func(r *http.Request) domain.Service {
		if header != "" {
			if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
				return domain.Service(strings.ToLower(v))
			}
		}

		host := requestHost(r)
		if svc, ok := norm[host]; ok {
			return svc
		}
		// sobe um rótulo por vez: a.b.example.com -> b.example.com -> example.com
		for i := strings.IndexByte(host, '.'); i >= 0; i = strings.IndexByte(host, '.') {
			host = host[i+1:]
			if svc, ok := norm[host]; ok {
				return svc
			}
		}
		return fallback
	}
}

func requestHost(r *http.Request) string {
	host := r.Host
	if r.URL != nil && r.URL.Host != "" {
		host = r.URL.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}
