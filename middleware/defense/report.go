package defense

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"defense-gateway/middleware/defense/domain"
)

// violationReport é o formato do report out-of-band (ex: callback de
// violação de política do navegador).
type violationReport struct {
	Directive       string `json:"directive"`
	BlockedResource string `json:"blockedResource"`
	DocumentURI     string `json:"documentUri"`
	Origin          string `json:"origin"`
}

const maxReportBytes = 64 << 10

// ReportHandler aceita reports de violação em JSON e alimenta o mesmo
// tracker das detecções inline. Best-effort por natureza: o reporter não
// espera corpo de resposta.
func ReportHandler(tracker domain.ViolationTracker, recorder domain.Recorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		var rep violationReport
		body := io.LimitReader(r.Body, maxReportBytes)
		if err := json.NewDecoder(body).Decode(&rep); err != nil {
			http.Error(w, "invalid report", http.StatusBadRequest)
			return
		}

		origin := strings.TrimSpace(rep.Origin)
		if origin == "" {
			origin = strings.TrimSpace(r.Header.Get("Origin"))
		}
		if origin == "" {
			origin = clientIP(r, false)
		}

		v := domain.Violation{
			Origin:   domain.Origin(origin),
			Severity: domain.SeverityMedium,
			Source:   "report",
			At:       time.Now(),
		}
		if tracker != nil {
			tracker.Record(v)
		}
		if recorder != nil {
			_ = recorder.RecordViolation(r.Context(), v)
		}

		w.WriteHeader(http.StatusNoContent)
	})
}
