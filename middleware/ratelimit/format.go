// utilitário pequeno para formatação consistente de valores numéricos em headers e JSON.

package ratelimit

import (
	"strconv"
	"time"

	"quota-coordinator/middleware/ratelimit/domain"
)

func formatFloat(v float64) string {
	// sem notação científica para valores comuns
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// secondsOrNil converte para segundos; NoRefill vira nil (null no JSON).
func secondsOrNil(d time.Duration) *float64 {
	if d == domain.NoRefill {
		return nil
	}
	s := d.Seconds()
	return &s
}
