package defense

import (
	"net/http/httptest"
	"testing"

	"defense-gateway/middleware/defense/domain"
	"defense-gateway/middleware/defense/infra"
)

func TestDefaultPrincipalFunc(t *testing.T) {
	fn := DefaultPrincipalFunc("X-User-Id", false)

	req := httptest.NewRequest("GET", "/catalog", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	if got := fn(req); got != "192.0.2.7" {
		t.Fatalf("expected remote IP, got %q", got)
	}

	req.Header.Set("X-User-Id", "  alice  ")
	if got := fn(req); got != "alice" {
		t.Fatalf("expected trimmed principal header, got %q", got)
	}
}

func TestDefaultPrincipalFunc_TrustsXFFWhenEnabled(t *testing.T) {
	req := httptest.NewRequest("GET", "/catalog", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := DefaultPrincipalFunc("", false)(req); got != "10.0.0.1" {
		t.Fatalf("expected XFF ignored when untrusted, got %q", got)
	}
	if got := DefaultPrincipalFunc("", true)(req); got != "203.0.113.9" {
		t.Fatalf("expected first XFF hop when trusted, got %q", got)
	}
}

func TestDefaultCategoryFunc(t *testing.T) {
	set := infra.DefaultPolicySet()
	set.Categories["payment"] = infra.DefaultCategoryPolicy()
	fn := DefaultCategoryFunc(infra.NewPolicyStore(set))

	cases := []struct {
		path string
		want domain.Category
	}{
		{"/payment/checkout", "payment"},
		{"/PAYMENT/checkout", "payment"},
		// categoria desconhecida cai na default, sem explodir cardinalidade
		{"/whatever/deep/path", domain.DefaultCategory},
		{"/", domain.DefaultCategory},
		{"", domain.DefaultCategory},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "http://example.test"+orSlash(tc.path), nil)
		req.URL.Path = tc.path
		if got := fn(req); got != tc.want {
			t.Fatalf("path %q: expected %q, got %q", tc.path, tc.want, got)
		}
	}
}

func orSlash(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func TestDefaultOriginFunc(t *testing.T) {
	fn := DefaultOriginFunc(false)

	req := httptest.NewRequest("GET", "/catalog", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	if got := fn(req); got != "192.0.2.7" {
		t.Fatalf("expected IP origin, got %q", got)
	}

	req.Header.Set("Origin", "https://shop.example")
	if got := fn(req); got != "https://shop.example" {
		t.Fatalf("expected Origin header, got %q", got)
	}
}

func TestBucketKey(t *testing.T) {
	if got := BucketKey("payment", "alice"); got != "payment:alice" {
		t.Fatalf("expected payment:alice, got %q", got)
	}
}
