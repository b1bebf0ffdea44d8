package dns

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	pool, err := NewPool([]string{srv.URL + "/r/"}, 0, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	return NewClient(pool, zaptest.NewLogger(t), opts...)
}

func TestClient_Resolve(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind Kind
		wantIPs  []string
	}{
		{"resolved", http.StatusOK, "1.1.1.1\n2.2.2.2", Resolved, []string{"1.1.1.1", "2.2.2.2"}},
		{"resolved crlf and trailing newline", http.StatusOK, "1.1.1.1\r\n2.2.2.2\n", Resolved, []string{"1.1.1.1", "2.2.2.2"}},
		{"non-existent", http.StatusNotFound, "nx", NonExistent, []string{}},
		{"non-existent with newline", http.StatusNotFound, "nx\n", NonExistent, []string{}},
		{"not found without token", http.StatusNotFound, "missing", TransientError, nil},
		{"nx token with ok status", http.StatusOK, "nx", TransientError, nil},
		{"empty body", http.StatusOK, "", TransientError, nil},
		{"html body", http.StatusOK, "<html>1.1.1.1</html>", TransientError, nil},
		{"partial garbage", http.StatusOK, "1.1.1.1\nfoo", TransientError, nil},
		{"not a dotted quad", http.StatusOK, "1.2.3", TransientError, nil},
		{"blank line inside", http.StatusOK, "1.1.1.1\n\n2.2.2.2", TransientError, nil},
		{"server error", http.StatusInternalServerError, "1.1.1.1", TransientError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			out := c.Resolve(context.Background(), "x.bit")
			if out.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v (err: %v)", out.Kind, tt.wantKind, out.Err)
			}
			if !slices.Equal(out.IPs, tt.wantIPs) {
				t.Errorf("IPs = %v, want %v", out.IPs, tt.wantIPs)
			}
			if tt.wantKind == TransientError && out.Err == nil {
				t.Error("TransientError without Err")
			}
			if tt.wantKind == NonExistent && out.IPs == nil {
				t.Error("NonExistent returned nil IPs")
			}
		})
	}
}

func TestClient_RequestPath(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.EscapedPath()
		_, _ = w.Write([]byte("1.1.1.1"))
	})

	c.Resolve(context.Background(), "my-site.bit")
	if got != "/r/my-site.bit" {
		t.Errorf("request path = %q, want /r/my-site.bit", got)
	}
}

func TestClient_TimeoutGrows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, WithTimeout(40*time.Millisecond))

	before := c.Timeout()
	out := c.Resolve(context.Background(), "slow.bit")

	if out.Kind != TransientError {
		t.Fatalf("Kind = %v, want TransientError", out.Kind)
	}
	if !errors.Is(out.Err, ErrTimeout) {
		t.Errorf("Err = %v, want ErrTimeout", out.Err)
	}
	if after := c.Timeout(); after != 60*time.Millisecond || after <= before {
		t.Errorf("Timeout() = %v after timeout, want 60ms", after)
	}
}

func TestClient_GrowTimeoutCapped(t *testing.T) {
	pool, _ := NewPool([]string{"http://unused/"}, 0, nil)
	c := NewClient(pool, nil, WithTimeout(25*time.Second))

	if got := c.growTimeout(); got != MaxTimeout {
		t.Errorf("growTimeout() = %v, want %v", got, MaxTimeout)
	}
	if got := c.growTimeout(); got != MaxTimeout {
		t.Errorf("growTimeout() at cap = %v, want %v", got, MaxTimeout)
	}
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL + "/r/"
	srv.Close()

	pool, _ := NewPool([]string{base}, 0, nil)
	c := NewClient(pool, zaptest.NewLogger(t))
	before := c.Timeout()

	out := c.Resolve(context.Background(), "x.bit")
	if out.Kind != TransientError || out.Err == nil {
		t.Errorf("Resolve() = %+v, want TransientError with error", out)
	}
	if c.Timeout() != before {
		t.Errorf("Timeout() changed on a non-timeout failure: %v", c.Timeout())
	}
}

func TestClient_DoesNotRotate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	before := c.pool.Index()
	c.Resolve(context.Background(), "x.bit")
	if c.pool.Index() != before {
		t.Error("client rotated the pool")
	}
}

func TestKind_String(t *testing.T) {
	if Resolved.String() != "resolved" || NonExistent.String() != "non-existent" || TransientError.String() != "transient-error" {
		t.Error("unexpected Kind strings")
	}
}
