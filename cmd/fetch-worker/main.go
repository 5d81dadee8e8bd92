// Command fetch-worker busca URLs (feeds RSS, páginas) passando cada requisição
// pelo rate limit compartilhado, e expõe /status, /reset e /healthz.
//
// Vários processos podem rodar ao mesmo tempo apontando para o mesmo Redis:
// a cota de cada serviço é dividida entre todos.
package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"quota-coordinator/middleware/ratelimit"
	"quota-coordinator/middleware/ratelimit/config"
	"quota-coordinator/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	wcfg := readWorkerConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := ratelimit.Open(ctx, cfg, ratelimit.WithOpenLogger(logger))
	if err != nil {
		log.Fatalf("rate limit error: %v", err)
	}
	defer func() { _ = st.Close() }()

	if err := st.Limiter.Prime(ctx); err != nil {
		logger.Warn("could not prime buckets", "err", err)
	}

	client := &http.Client{
		Transport: st.Transport(nil, ratelimit.DefaultServiceFunc(ratelimit.HeaderService, wcfg.hosts, wcfg.fallback)),
		Timeout:   wcfg.fetchTimeout,
	}

	mux := http.NewServeMux()
	mux.Handle("/status", ratelimit.StatusHandler(st.Status))
	mux.Handle("/reset", ratelimit.ResetHandler(st.Admin))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              wcfg.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	var wg sync.WaitGroup
	if len(wcfg.urls) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runFetchLoop(ctx, logger, client, wcfg)
		}()
	}

	logger.Info("fetch worker listening", "addr", wcfg.listenAddr, "urls", len(wcfg.urls), "workers", wcfg.workers)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	wg.Wait()
}

// runFetchLoop despacha as URLs em rodadas. O rate.Limiter local só espaça o
// despacho dentro deste processo; quem decide a admissão é o Transport.
func runFetchLoop(ctx context.Context, logger *slog.Logger, client *http.Client, wcfg workerConfig) {
	pace := rate.NewLimiter(rate.Limit(wcfg.dispatchRPS), 1)
	jobs := make(chan string)

	var wg sync.WaitGroup
	for i := 0; i < wcfg.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				fetch(ctx, logger, client, u)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		for _, u := range wcfg.urls {
			if err := pace.Wait(ctx); err != nil {
				return
			}
			select {
			case jobs <- u:
			case <-ctx.Done():
				return
			}
		}
		if wcfg.interval <= 0 {
			return
		}
		select {
		case <-time.After(wcfg.interval):
		case <-ctx.Done():
			return
		}
	}
}

func fetch(ctx context.Context, logger *slog.Logger, client *http.Client, u string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		logger.Error("invalid url", "url", u, "err", err)
		return
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if rle, ok := domain.IsRateLimited(err); ok {
			logger.Warn("fetch skipped, rate limited", "url", u, "service", rle.Service, "retry_after", rle.RetryAfter)
			return
		}
		if ctx.Err() == nil {
			logger.Error("fetch failed", "url", u, "err", err)
		}
		return
	}
	n, _ := io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	logger.Info("fetched",
		"url", u,
		"status", resp.StatusCode,
		"bytes", n,
		"service", resp.Header.Get(ratelimit.HeaderService),
		"degraded", resp.Header.Get(ratelimit.HeaderDegraded) != "",
		"took", time.Since(start))
}

type workerConfig struct {
	listenAddr   string
	urls         []string
	hosts        map[string]domain.Service
	fallback     domain.Service
	workers      int
	dispatchRPS  float64
	interval     time.Duration
	fetchTimeout time.Duration
}

func readWorkerConfig() workerConfig {
	return workerConfig{
		listenAddr:   getenvDefault("LISTEN_ADDR", ":8081"),
		urls:         splitList(os.Getenv("FETCH_URLS")),
		hosts:        parseHosts(os.Getenv("FETCH_HOSTS")),
		fallback:     domain.Service(getenvDefault("FETCH_DEFAULT_SERVICE", "web")),
		workers:      getenvIntDefault("FETCH_WORKERS", 4),
		dispatchRPS:  getenvFloatDefault("FETCH_DISPATCH_RPS", 10),
		interval:     getenvDurationDefault("FETCH_INTERVAL", time.Minute),
		fetchTimeout: getenvDurationDefault("FETCH_TIMEOUT", 5*time.Minute),
	}
}

// parseHosts lê "host=serviço,host=serviço".
func parseHosts(v string) map[string]domain.Service {
	out := make(map[string]domain.Service)
	for _, item := range splitList(v) {
		host, svc, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(host) == "" || strings.TrimSpace(svc) == "" {
			continue
		}
		out[strings.TrimSpace(host)] = domain.Service(strings.ToLower(strings.TrimSpace(svc)))
	}
	return out
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func logLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(getenvDefault("LOG_LEVEL", "info"))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
