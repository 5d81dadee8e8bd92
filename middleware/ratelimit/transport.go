package ratelimit

import (
	"fmt"
	"net/http"

	"quota-coordinator/middleware/ratelimit/application"
)

// Headers colocados na resposta de chamadas limitadas.
const (
	HeaderService   = "X-RateLimit-Service"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderDegraded  = "X-RateLimit-Degraded"
)

type TransportOptions struct {
	// Base faz a chamada real. Padrão: http.DefaultTransport.
	Base      http.RoundTripper
	Retrier   *application.Retrier
	ServiceFn ServiceFunc

	Concurrency ConcurrencyOptions
}

// Transport é um http.RoundTripper que só deixa a requisição sair depois de
// conseguir um permit do serviço dela.
type Transport struct {
	base        http.RoundTripper
	retrier     *application.Retrier
	serviceFn   ServiceFunc
	concurrency application.ConcurrencyService
}

func NewTransport(opts TransportOptions) *Transport {
	if opts.Base == nil {
		opts.Base = http.DefaultTransport
	}
	if opts.ServiceFn == nil {
		opts.ServiceFn = DefaultServiceFunc(HeaderService, nil, "web")
	}
	return &Transport{
		base:        opts.Base,
		retrier:     opts.Retrier,
		serviceFn:   opts.ServiceFn,
		concurrency: newConcurrencyService(opts.Concurrency),
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	svc := t.serviceFn(req)
	if svc == "" || t.retrier == nil {
		return t.base.RoundTrip(req)
	}
	ctx := req.Context()

	release, ok := t.concurrency.Acquire(ctx, svc)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w for %q", ErrNoSlot, svc)
	}

	permit, err := t.retrier.TryAcquireWithRetry(ctx, svc)
	if err != nil {
		release()
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		release()
		return nil, err
	}

	resp.Header.Set(HeaderService, string(svc))
	if permit.Degraded {
		resp.Header.Set(HeaderDegraded, "true")
	} else {
		resp.Header.Set(HeaderRemaining, formatFloat(permit.Remaining))
	}

	if resp.Body == nil {
		release()
		return resp, nil
	}
	resp.Body = &releaseOnClose{ReadCloser: resp.Body, release: release}
	return resp, nil
}
