package application

import (
	"context"
	"fmt"
	"log/slog"

	"quota-coordinator/middleware/ratelimit/domain"
)

// StatusReporter lê os buckets sem alterar nada: nem consome token, nem cria
// bucket que ainda não existe.
type StatusReporter struct {
	limiter *Limiter
}

func NewStatusReporter(l *Limiter) *StatusReporter {
	return &StatusReporter{limiter: l}
}

// Status reporta os serviços pedidos, ou todos (ordem alfabética) se nenhum for passado.
func (r *StatusReporter) Status(ctx context.Context, svcs ...domain.Service) ([]domain.Status, error) {
	l := r.limiter
	if len(svcs) == 0 {
		svcs = l.Services()
	}

	now := l.clock.Now()
	out := make([]domain.Status, 0, len(svcs))
	for _, svc := range svcs {
		cfg, err := l.Config(svc)
		if err != nil {
			return nil, err
		}
		b, found, err := l.store.Peek(ctx, svc)
		if err != nil {
			return nil, fmt.Errorf("status %q: %w", svc, err)
		}
		out = append(out, domain.ComputeStatus(svc, cfg, b, found, now))
	}
	return out, nil
}

// Admin agrupa operações de teste/ops. Reset só funciona se habilitado.
type Admin struct {
	limiter    *Limiter
	allowReset bool
	log        *slog.Logger
}

func NewAdmin(l *Limiter, allowReset bool) *Admin {
	return &Admin{limiter: l, allowReset: allowReset, log: l.log}
}

func (a *Admin) ResetEnabled() bool { return a.allowReset }

// Reset enche os buckets pedidos (ou todos). Valida todos os nomes antes de
// escrever qualquer um.
func (a *Admin) Reset(ctx context.Context, svcs ...domain.Service) error {
	if !a.allowReset {
		return domain.ErrResetDisabled
	}

	l := a.limiter
	if len(svcs) == 0 {
		svcs = l.Services()
	}
	for _, svc := range svcs {
		if _, err := l.Config(svc); err != nil {
			return err
		}
	}

	now := l.clock.Now()
	for _, svc := range svcs {
		if err := l.store.Reset(ctx, svc, l.services[svc], now); err != nil {
			return fmt.Errorf("reset %q: %w", svc, err)
		}
		a.log.Info("bucket reset", "service", svc)
	}
	return nil
}
