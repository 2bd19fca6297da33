package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterWithinLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		res := rl.Check("1.2.3.4")
		if res.limited {
			t.Fatalf("request %d was limited", i+1)
		}
		if res.remaining != 3-(i+1) {
			t.Errorf("request %d remaining = %d, want %d", i+1, res.remaining, 3-(i+1))
		}
	}

	res := rl.Check("1.2.3.4")
	if !res.limited {
		t.Fatalf("request over the limit was allowed")
	}
	if res.remaining != 0 {
		t.Errorf("limited remaining = %d, want 0", res.remaining)
	}
}

func TestRateLimiterIsPerClient(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	if rl.Check("1.2.3.4").limited {
		t.Fatalf("first client limited on first request")
	}
	if rl.Check("5.6.7.8").limited {
		t.Fatalf("second client shares the first client's window")
	}
	if !rl.Check("1.2.3.4").limited {
		t.Fatalf("first client not limited on second request")
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Second)
	current := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return current }

	rl.Check("1.2.3.4")
	if !rl.Check("1.2.3.4").limited {
		t.Fatalf("second request inside the window was allowed")
	}

	current = current.Add(11 * time.Second)
	res := rl.Check("1.2.3.4")
	if res.limited {
		t.Fatalf("request after window expiry was limited")
	}
	if want := current.Add(10 * time.Second); !res.resetTime.Equal(want) {
		t.Errorf("resetTime = %v, want %v", res.resetTime, want)
	}
}

func TestRateLimiterReset(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Check("1.2.3.4")
	rl.Reset("1.2.3.4")
	if rl.Check("1.2.3.4").limited {
		t.Fatalf("request after Reset was limited")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.max != DefaultRateLimitMax || rl.window != DefaultRateLimitWindow {
		t.Errorf("defaults not applied: max=%d window=%v", rl.max, rl.window)
	}
}

func TestClientIdentifier(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "forwarded list takes the first hop",
			remoteAddr: "10.0.0.1:5555",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"},
			want:       "203.0.113.7",
		},
		{
			name:       "real ip header",
			remoteAddr: "10.0.0.1:5555",
			headers:    map[string]string{"X-Real-Ip": "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "remote address without port",
			remoteAddr: "192.0.2.50:8443",
			want:       "192.0.2.50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/message", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIdentifier(req); got != tt.want {
				t.Errorf("clientIdentifier = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddRateLimitHeaders(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)
	h := http.Header{}

	rl.addRateLimitHeaders(h, rateLimitResult{remaining: 4, resetTime: time.Now().Add(time.Minute)})
	if h.Get("X-RateLimit-Limit") != "5" || h.Get("X-RateLimit-Remaining") != "4" {
		t.Errorf("headers = %v", h)
	}
	if h.Get("X-RateLimit-Reset") == "" {
		t.Errorf("reset header missing")
	}
	if h.Get("Retry-After") != "" {
		t.Errorf("Retry-After set on an allowed request")
	}

	h = http.Header{}
	rl.addRateLimitHeaders(h, rateLimitResult{limited: true, resetTime: time.Now().Add(30 * time.Second)})
	if h.Get("Retry-After") == "" {
		t.Errorf("Retry-After missing on a limited request")
	}
}
