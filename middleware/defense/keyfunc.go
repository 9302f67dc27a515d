package defense

import (
	"net"
	"net/http"
	"strings"

	"defense-gateway/middleware/defense/domain"
)

// PrincipalFunc extrai o principal de uma requisição: user id autenticado
// quando a camada de auth externa anexou o hint, senão o IP do cliente.
type PrincipalFunc func(r *http.Request) string

// CategoryFunc resolve a categoria de endpoint de uma requisição.
type CategoryFunc func(r *http.Request) domain.Category

// OriginFunc resolve a origem para fins de blocklist.
type OriginFunc func(r *http.Request) domain.Origin

// DefaultPrincipalFunc prefere o header de principal (preenchido pela camada
// de autenticação), depois X-Forwarded-For quando confiável, depois
// RemoteAddr.
func DefaultPrincipalFunc(principalHeader string, trustXFF bool) PrincipalFunc {
	return func(r *http.Request) string {
		if principalHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(principalHeader)); v != "" {
				return v
			}
		}
		return clientIP(r, trustXFF)
	}
}

// DefaultCategoryFunc usa o primeiro segmento do path como categoria,
// caindo para "default" quando o conjunto de políticas não a conhece
// (evita explodir a cardinalidade de breakers/métricas com paths
// arbitrários).
func DefaultCategoryFunc(policies domain.PolicyProvider) CategoryFunc {
	return func(r *http.Request) domain.Category {
		seg := firstSegment(r.URL.Path)
		if seg == "" {
			return domain.DefaultCategory
		}
		cat := domain.Category(strings.ToLower(seg))
		if policies != nil && policies.Current().HasCategory(cat) {
			return cat
		}
		return domain.DefaultCategory
	}
}

// DefaultOriginFunc usa o header Origin quando presente, senão o IP do
// cliente.
func DefaultOriginFunc(trustXFF bool) OriginFunc {
	return func(r *http.Request) domain.Origin {
		if o := strings.TrimSpace(r.Header.Get("Origin")); o != "" {
			return domain.Origin(o)
		}
		return domain.Origin(clientIP(r, trustXFF))
	}
}

// BucketKey compõe a chave estável usada por todos os componentes com
// estado: (categoria, principal).
func BucketKey(cat domain.Category, principal string) domain.Key {
	return domain.Key(string(cat) + ":" + principal)
}

func clientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				ip := strings.TrimSpace(parts[0])
				if ip != "" {
					return ip
				}
			}
		}
	}

	// fallback: RemoteAddr
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}
