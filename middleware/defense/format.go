// utilitário pequeno para formatação rápida/consistente de valores numéricos
// em headers, sem puxar fmt só para isso.

package defense

import (
	"math"
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// retryAfterSeconds arredonda para cima e garante pelo menos 1s: Retry-After
// tem granularidade de segundo e zero leria como "tente já".
func retryAfterSeconds(d time.Duration) string {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return formatInt(s)
}
