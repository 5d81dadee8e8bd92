package ratelimit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"quota-coordinator/middleware/ratelimit/application"
	"quota-coordinator/middleware/ratelimit/domain"
)

// StatusEntry é o formato JSON de um serviço em /status.
type StatusEntry struct {
	Service         string   `json:"service"`
	Available       float64  `json:"available"`
	Capacity        int64    `json:"capacity"`
	UsagePct        float64  `json:"usage_pct"`
	PeriodSeconds   float64  `json:"period_seconds"`
	RefillInSeconds *float64 `json:"refill_in_seconds"`
}

func NewStatusEntry(st domain.Status) StatusEntry {
	return StatusEntry{
		Service:         string(st.Service),
		Available:       st.Available,
		Capacity:        st.Capacity,
		UsagePct:        st.UsagePct,
		PeriodSeconds:   st.Period.Seconds(),
		RefillInSeconds: secondsOrNil(st.RefillIn),
	}
}

// StatusHandler responde GET /status[?service=a,b] com a lista de StatusEntry.
func StatusHandler(r *application.StatusReporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		sts, err := r.Status(req.Context(), servicesParam(req)...)
		if err != nil {
			writeError(w, err)
			return
		}

		out := make([]StatusEntry, 0, len(sts))
		for _, st := range sts {
			out = append(out, NewStatusEntry(st))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
}

// ResetHandler responde POST /reset[?service=a,b]. Com reset desabilitado a
// rota não existe (404).
func ResetHandler(a *application.Admin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !a.ResetEnabled() {
			http.NotFound(w, req)
			return
		}
		if req.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		if err := a.Reset(req.Context(), servicesParam(req)...); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func servicesParam(req *http.Request) []domain.Service {
	var out []domain.Service
	for _, v := range req.URL.Query()["service"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, domain.Service(s))
			}
		}
	}
	return out
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnknownService):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrResetDisabled):
		code = http.StatusForbidden
	case errors.Is(err, domain.ErrStoreUnavailable):
		code = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), code)
}
