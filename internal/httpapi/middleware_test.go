package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def", "abc.def", true},
		{"bearer   abc ", "abc", true},
		{"Basic Zm9vOmJhcg==", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("extractBearerToken(%q) = %q, %v", tc.header, got, err)
		}
	}
}

func TestCORSAllowList(t *testing.T) {
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), []string{"https://console.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.com" {
		t.Fatalf("expected origin reflected, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected origin rejected, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rr.Code)
	}
}

func TestRequestIDEchoesValidHeader(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "6f1c1f3e-2b1f-4a57-9d43-0d9f7f1a2b3c")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get(requestIDHeader); got != "6f1c1f3e-2b1f-4a57-9d43-0d9f7f1a2b3c" {
		t.Fatalf("expected echoed id, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "<script>")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get(requestIDHeader); got == "<script>" || got == "" {
		t.Fatalf("expected fresh id, got %q", got)
	}
}

func TestStrongPassword(t *testing.T) {
	cases := map[string]bool{
		"Sup3r$ecret":   true,
		"short1!A":      true,
		"Sh0rt!":        false,
		"nouppercase1!": false,
		"NOLOWER1!":     false,
		"NoDigits!!":    false,
		"NoSymbol123":   false,
	}
	for pw, want := range cases {
		if got := strongPassword(pw); got != want {
			t.Fatalf("strongPassword(%q)=%v, want %v", pw, got, want)
		}
	}
}

func TestTrustedProxiesClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.10", " "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cases := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct peer", "198.51.100.4:5000", "", "198.51.100.4"},
		{"untrusted peer ignores header", "198.51.100.4:5000", "203.0.113.9", "198.51.100.4"},
		{"trusted peer", "192.0.2.10:80", "203.0.113.9", "203.0.113.9"},
		{"right-most untrusted hop", "10.0.0.5:80", "1.1.1.1, 203.0.113.9, 10.0.0.7", "203.0.113.9"},
		{"all hops trusted", "10.0.0.5:80", "10.0.0.6", "10.0.0.6"},
		{"garbage hop", "10.0.0.5:80", "203.0.113.9, bogus", "10.0.0.5"},
		{"trusted peer without header", "10.0.0.5:80", "", "10.0.0.5"},
		{"no port", "198.51.100.4", "203.0.113.9", "198.51.100.4"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		if tc.xff != "" {
			req.Header.Set("X-Forwarded-For", tc.xff)
		}
		if got := proxies.ClientIP(req); got != tc.want {
			t.Fatalf("%s: ClientIP=%q, want %q", tc.name, got, tc.want)
		}
	}

	var none TrustedProxies
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:80"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	if got := none.ClientIP(req); got != "10.0.0.5" {
		t.Fatalf("zero value must not trust forwarded headers, got %q", got)
	}

	if _, err := ParseTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatalf("expected error for bad CIDR")
	}
}
