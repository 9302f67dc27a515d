package defense

import (
	"encoding/json"
	"math"
	"net/http"

	"defense-gateway/middleware/defense/domain"
)

// rejectBody é a forma estável das rejeições: o cliente distingue os tipos
// programaticamente por error/code, nunca pelo texto.
type rejectBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func rejectStatus(kind domain.RejectKind) int {
	switch kind {
	case domain.RejectOriginBlocked:
		return http.StatusForbidden
	case domain.RejectThreat:
		return http.StatusBadRequest
	case domain.RejectRateLimited:
		return http.StatusTooManyRequests
	case domain.RejectCircuitOpen, domain.RejectOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

func writeReject(w http.ResponseWriter, dec domain.Decision, securityHeaders bool) {
	for k, v := range dec.Headers {
		w.Header().Set(k, v)
	}
	if securityHeaders {
		setSecurityHeaders(w)
	}

	body := rejectBody{
		Error: string(dec.Kind),
		Code:  dec.Code,
	}
	if dec.RetryAfter > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(dec.RetryAfter))
		body.RetryAfter = int(math.Ceil(dec.RetryAfter.Seconds()))
		if body.RetryAfter < 1 {
			body.RetryAfter = 1
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(rejectStatus(dec.Kind))
	_ = json.NewEncoder(w).Encode(body)
}

func setSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
}
