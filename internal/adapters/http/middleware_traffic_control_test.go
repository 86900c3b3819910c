package httpadapter

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/tenant-rag/internal/config"
)

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	handler := newTestHandler(t, config.Config{
		APIRateLimitRPS:   1,
		APIRateLimitBurst: 1,
	})

	req1 := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	res1 := httptest.NewRecorder()
	handler.ServeHTTP(res1, req1)
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}

	req3 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res3 := httptest.NewRecorder()
	handler.ServeHTTP(res3, req3)
	if res3.Code != http.StatusOK {
		t.Fatalf("health checks must bypass the limiter, got %d", res3.Code)
	}
}

func mustTrustedProxies(t *testing.T, entries ...string) trustedProxies {
	t.Helper()
	proxies, err := parseTrustedProxies(entries)
	if err != nil {
		t.Fatalf("parseTrustedProxies() error = %v", err)
	}
	return proxies
}

func TestRateLimitIsPerClientBehindTrustedProxy(t *testing.T) {
	var rejected []string
	base := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	// httptest requests come from 192.0.2.1.
	handler := rateLimitMiddleware(base, 1, 1, mustTrustedProxies(t, "192.0.2.0/24"), func(reason string) { rejected = append(rejected, reason) })

	for _, client := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		req.Header.Set("X-Forwarded-For", client)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusNoContent {
			t.Fatalf("client %s expected 204, got %d", client, res.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for repeated client, got %d", res.Code)
	}
	if len(rejected) != 1 || rejected[0] != "rate_limited" {
		t.Fatalf("unexpected rejections %v", rejected)
	}
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := rateLimitMiddleware(base, 1, 1, nil, nil)

	codes := make([]int, 0, 3)
	for _, spoofed := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		req.Header.Set("X-Forwarded-For", spoofed)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		codes = append(codes, res.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("rotating X-Forwarded-For must not bypass the limiter, got %v", codes)
	}
}

func TestClientKey(t *testing.T) {
	proxies := mustTrustedProxies(t, "192.0.2.1", "172.16.0.0/12")
	cases := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{name: "direct peer", remote: "203.0.113.9:5000", forwarded: "10.0.0.1", want: "203.0.113.9"},
		{name: "trusted peer without header", remote: "192.0.2.1:5000", want: "192.0.2.1"},
		{name: "trusted chain", remote: "192.0.2.1:5000", forwarded: "1.1.1.1, 10.9.8.7, 172.16.0.4", want: "10.9.8.7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
			req.RemoteAddr = tc.remote
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := proxies.clientKey(req); got != tc.want {
				t.Fatalf("clientKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := parseTrustedProxies([]string{"10.0.0.0/8", "proxy.local"}); err == nil {
		t.Fatalf("expected error for non-address entry")
	}
}

func TestClientLimitersEvictIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiters := newClientLimiters(1, 1)
	limiters.now = func() time.Time { return now }

	limiters.allow("10.0.0.1")
	limiters.allow("10.0.0.2")
	if limiters.size() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", limiters.size())
	}

	now = now.Add(limiterIdleTTL + limiterSweepEvery)
	if !limiters.allow("10.0.0.3") {
		t.Fatalf("new client should be allowed")
	}
	if limiters.size() != 1 {
		t.Fatalf("expected idle clients to be evicted, got %d tracked", limiters.size())
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)
	var rejected []string

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond, func(reason string) { rejected = append(rejected, reason) })

	go func() {
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(bytes.NewReader(res2.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("decode overload response: %v", err)
	}
	if resp["error"] == "" {
		t.Fatalf("expected overload error message in response")
	}
	if len(rejected) != 1 || rejected[0] != "overloaded" {
		t.Fatalf("unexpected rejections %v", rejected)
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}
