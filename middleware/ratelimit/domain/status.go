package domain

import "time"

// Status é a visão somente-leitura de um bucket.
type Status struct {
	Service   Service
	Available float64
	Capacity  int64
	UsagePct  float64
	Period    time.Duration
	RefillIn  time.Duration
}

// ComputeStatus projeta o bucket em `now` sem alterá-lo.
// Bucket inexistente (found=false) é reportado cheio e sem uso.
func ComputeStatus(svc Service, cfg BucketConfig, b Bucket, found bool, now time.Time) Status {
	st := Status{
		Service:  svc,
		Capacity: cfg.MaxCalls,
		Period:   cfg.Period,
	}

	capacity := cfg.Capacity()
	if capacity <= 0 {
		st.UsagePct = 1
		st.RefillIn = NoRefill
		return st
	}

	available := capacity
	if found {
		available = Project(b, cfg, now)
	}
	st.Available = available
	st.UsagePct = 1 - available/capacity

	if available < capacity {
		st.RefillIn = RetryAfter(cfg, capacity, available)
	}
	return st
}
