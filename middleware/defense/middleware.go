package defense

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"time"

	"defense-gateway/middleware/defense/application"
	"defense-gateway/middleware/defense/domain"
	"defense-gateway/middleware/defense/infra"
)

type Options struct {
	Pipeline *application.Pipeline

	PrincipalFn PrincipalFunc
	CategoryFn  CategoryFunc
	OriginFn    OriginFunc

	// PrincipalHeader é o header onde a camada de auth externa anexa o user
	// id autenticado (vazio = só IP).
	PrincipalHeader    string
	TrustXForwardedFor bool

	// MaxInFlight limita requisições simultâneas no pipeline inteiro
	// (0 = sem limite). AcquireTimeout limita a espera por vaga.
	MaxInFlight    int
	AcquireTimeout time.Duration

	// MaxBodyBytes é o teto de leitura do body quando a política da
	// categoria não define um.
	MaxBodyBytes int64

	SecurityHeaders bool
}

const defaultMaxBodyBytes = 64 << 10

// Middleware monta o handler do pipeline de defesa em volta de next
// (tipicamente o reverse proxy).
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.PrincipalFn == nil {
		opts.PrincipalFn = DefaultPrincipalFunc(opts.PrincipalHeader, opts.TrustXForwardedFor)
	}
	if opts.CategoryFn == nil {
		opts.CategoryFn = DefaultCategoryFunc(opts.Pipeline.Policies)
	}
	if opts.OriginFn == nil {
		opts.OriginFn = DefaultOriginFunc(opts.TrustXForwardedFor)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	var inflight application.InflightService
	if opts.MaxInFlight > 0 {
		inflight = application.InflightService{
			Pool:           infra.NewChanPool(opts.MaxInFlight),
			AcquireTimeout: opts.AcquireTimeout,
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if inflight.Pool != nil {
				release, ok := inflight.Acquire(r.Context())
				if !ok {
					writeReject(w, domain.Decision{
						Kind: domain.RejectOverloaded,
						Code: domain.RejectOverloaded.Code(),
					}, opts.SecurityHeaders)
					return
				}
				defer release()
			}

			cat := opts.CategoryFn(r)
			principal := opts.PrincipalFn(r)

			pol := opts.Pipeline.Policies.Current().Category(cat)
			maxBody := pol.MaxBodyBytes
			if maxBody <= 0 {
				maxBody = opts.MaxBodyBytes
			}

			body, oversize := readBody(r, maxBody)

			rc := domain.RequestContext{
				Key:       BucketKey(cat, principal),
				Category:  cat,
				Principal: principal,
				Origin:    opts.OriginFn(r),
				Method:    r.Method,
				Path:      r.URL.Path,
				Parts: domain.RequestParts{
					Path:    r.URL.Path,
					Query:   r.URL.Query(),
					Headers: r.Header,
					Body:    body,
				},
				At: time.Now(),
			}

			dec := opts.Pipeline.Decide(r.Context(), rc)
			if !dec.Allowed {
				writeReject(w, dec, opts.SecurityHeaders)
				return
			}

			for k, v := range dec.Headers {
				w.Header().Set(k, v)
			}
			if opts.SecurityHeaders {
				setSecurityHeaders(w)
			}

			// body maior que o teto não é reescrito: só o prefixo foi
			// inspecionado, reescrever truncaria a requisição
			if dec.Sanitized && !oversize {
				applySanitized(r, rc.Parts, dec.Parts)
				w.Header().Set("X-Sanitized", "1")
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			opts.Pipeline.ObserveDownstream(cat, sw.status >= http.StatusInternalServerError)
		})
	}
}

// readBody lê até max bytes do body e recompõe o stream para o downstream.
// Retorna oversize=true quando o body excede o teto (só o prefixo lido é
// inspecionado).
func readBody(r *http.Request, max int64) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, max+1))
	if err != nil {
		// body ilegível conta como vazio para inspeção; o stream é
		// recomposto com o prefixo lido seguido do mesmo erro, para o
		// downstream ver a falha em vez de um body truncado limpo
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(buf), errReader{err: err}))
		return nil, false
	}

	if int64(len(buf)) > max {
		inspect := buf[:max]
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(buf), r.Body))
		return inspect, true
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, false
}

// errReader devolve sempre o mesmo erro, para repropagar uma falha de
// leitura do body original.
type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// applySanitized reescreve a requisição com o conteúdo sanitizado antes de
// encaminhar.
func applySanitized(r *http.Request, orig, cleaned domain.RequestParts) {
	if !sameBody(orig.Body, cleaned.Body) {
		r.Body = io.NopCloser(bytes.NewReader(cleaned.Body))
		r.ContentLength = int64(len(cleaned.Body))
		r.Header.Del("Content-Length")
	}
	if len(cleaned.Query) > 0 {
		r.URL.RawQuery = url.Values(cleaned.Query).Encode()
	}
	if len(cleaned.Headers) > 0 {
		r.Header = http.Header(cleaned.Headers)
	}
}

func sameBody(a, b []byte) bool { return bytes.Equal(a, b) }

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
