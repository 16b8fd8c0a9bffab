package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeDB serves just enough of the signin/rpc surface for pool tests. Each
// signin issues a distinct token; probes can be failed per token.
type fakeDB struct {
	mu          sync.Mutex
	signins     int
	queries     int
	deadTokens  map[string]bool
	lastQueries []string
}

func newFakeDB() *fakeDB {
	return &fakeDB{deadTokens: map[string]bool{}}
}

func (f *fakeDB) killToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadTokens[token] = true
}

func (f *fakeDB) signinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signins
}

func (f *fakeDB) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/signin", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.signins++
		token := fmt.Sprintf("token-%d", f.signins)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "token": token})
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.queries++
		dead := f.deadTokens[token]
		if len(req.Params) > 0 {
			if sql, ok := req.Params[0].(string); ok {
				f.lastQueries = append(f.lastQueries, sql)
			}
		}
		f.mu.Unlock()

		if dead {
			http.Error(w, "session expired", http.StatusInternalServerError)
			return
		}

		json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{{"status": "OK", "time": "10µs", "result": 1}},
		})
	})
	return mux
}

func testPool(t *testing.T, f *fakeDB, size, maxSize int, wait time.Duration) (*Pool, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	p := NewPool(PoolConfig{
		Conn: Config{
			URL:        srv.URL,
			User:       "root",
			Pass:       "root",
			Namespace:  "testns",
			Database:   "testdb",
			HTTPClient: srv.Client(),
		},
		Size:        size,
		MaxSize:     maxSize,
		WaitTimeout: wait,
	})
	t.Cleanup(p.Close)
	return p, srv
}

func TestPoolAcquireRelease(t *testing.T) {
	f := newFakeDB()
	p, _ := testPool(t, f, 1, 2, time.Second)

	ctx := context.Background()
	s, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s == nil {
		t.Fatal("nil session")
	}
	p.Release(s)

	// Second acquire reuses the idle session after a probe: no new signin.
	before := f.signinCount()
	s2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(s2)

	if f.signinCount() != before {
		t.Fatalf("reuse created a new session: signins %d -> %d", before, f.signinCount())
	}
	if s2.ID() != s.ID() {
		t.Fatalf("expected the idle session back, got %s want %s", s2.ID(), s.ID())
	}
}

func TestPoolAcquireTimeout(t *testing.T) {
	f := newFakeDB()
	p, _ := testPool(t, f, 1, 1, 50*time.Millisecond)

	ctx := context.Background()
	s, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(s)

	_, err = p.Acquire(ctx)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("err = %v, want ErrAcquireTimeout", err)
	}
}

func TestPoolCapAcrossGoroutines(t *testing.T) {
	f := newFakeDB()
	p, _ := testPool(t, f, 1, 2, 100*time.Millisecond)

	ctx := context.Background()
	a, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Acquire(ctx); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("third acquire: err = %v, want ErrAcquireTimeout", err)
	}

	stats := p.Stats()
	if stats.Size != 2 || stats.MaxSize != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	p.Release(a)
	p.Release(b)
}

func TestPoolReplacesFailingProbe(t *testing.T) {
	f := newFakeDB()
	p, _ := testPool(t, f, 1, 2, time.Second)

	ctx := context.Background()
	s, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(s)

	// Kill the idle session's token: the next acquire must discard it and
	// open a fresh session.
	f.killToken("token-1")

	s2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(s2)

	if s2.ID() == s.ID() {
		t.Fatal("pool handed out a session that failed its probe")
	}
	if got := f.signinCount(); got != 2 {
		t.Fatalf("signins = %d, want 2 (one replacement)", got)
	}
	if stats := p.Stats(); stats.Size != 1 {
		t.Fatalf("stats.Size = %d, want 1", stats.Size)
	}
}

func TestPoolPrewarm(t *testing.T) {
	f := newFakeDB()
	p, _ := testPool(t, f, 3, 5, time.Second)

	p.Prewarm(context.Background())

	stats := p.Stats()
	if stats.Size != 3 || stats.Available != 3 {
		t.Fatalf("stats = %+v, want 3 warmed", stats)
	}
	if got := f.signinCount(); got != 3 {
		t.Fatalf("signins = %d, want 3", got)
	}
}

func TestPoolClosed(t *testing.T) {
	f := newFakeDB()
	p, _ := testPool(t, f, 1, 1, time.Second)

	p.Close()
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("err = %v, want ErrPoolClosed", err)
	}
}

func TestPoolHealth(t *testing.T) {
	f := newFakeDB()
	p, _ := testPool(t, f, 1, 1, time.Second)

	latency, err := p.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if latency <= 0 {
		t.Fatalf("latency = %v", latency)
	}
}
