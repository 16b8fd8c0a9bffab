package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oriys/embedstar/internal/db"
	"github.com/oriys/embedstar/internal/retry"
)

// capturedQuery is one rpc call the fake database observed.
type capturedQuery struct {
	SQL  string
	Vars map[string]any
}

// fakeDB answers signin and rpc calls. respond decides each query's fate;
// probes ("RETURN 1") are always answered so pool plumbing works.
type fakeDB struct {
	mu      sync.Mutex
	queries []capturedQuery
	respond func(sql string, vars map[string]any) (any, error)
}

func (f *fakeDB) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/signin", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "token": "test-token"})
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sql, _ := req.Params[0].(string)
		vars, _ := req.Params[1].(map[string]any)

		if sql == "RETURN 1" {
			json.NewEncoder(w).Encode(map[string]any{
				"result": []map[string]any{{"status": "OK", "time": "1µs", "result": 1}},
			})
			return
		}

		f.mu.Lock()
		f.queries = append(f.queries, capturedQuery{SQL: sql, Vars: vars})
		respond := f.respond
		f.mu.Unlock()

		if respond == nil {
			json.NewEncoder(w).Encode(map[string]any{
				"result": []map[string]any{{"status": "OK", "time": "1µs", "result": nil}},
			})
			return
		}

		result, err := respond(sql, vars)
		if err != nil {
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": -32000, "message": err.Error()},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{{"status": "OK", "time": "1µs", "result": result}},
		})
	})
	return mux
}

func (f *fakeDB) captured() []capturedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]capturedQuery, len(f.queries))
	copy(out, f.queries)
	return out
}

func newTestStore(t *testing.T) (*Store, *fakeDB) {
	t.Helper()
	f := &fakeDB{}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	pool := db.NewPool(db.PoolConfig{
		Conn: db.Config{
			URL:        srv.URL,
			User:       "root",
			Pass:       "root",
			Namespace:  "testns",
			Database:   "testdb",
			HTTPClient: srv.Client(),
		},
		Size:        1,
		MaxSize:     2,
		WaitTimeout: time.Second,
	})
	t.Cleanup(pool.Close)

	return New(pool, retry.Config{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}), f
}

func TestNeedsEmbedding(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)

	cases := []struct {
		name string
		repo Repo
		want bool
	}{
		{"no vector", Repo{UpdatedAt: now}, true},
		{"vector but no timestamp", Repo{Embedding: []float32{1}, UpdatedAt: now}, true},
		{"stale vector", Repo{Embedding: []float32{1}, UpdatedAt: now, EmbeddingGeneratedAt: &earlier}, true},
		{"fresh vector", Repo{Embedding: []float32{1}, UpdatedAt: earlier, EmbeddingGeneratedAt: &now}, false},
	}
	for _, tc := range cases {
		if got := tc.repo.NeedsEmbedding(); got != tc.want {
			t.Errorf("%s: NeedsEmbedding = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEmbeddingText(t *testing.T) {
	repo := Repo{
		FullName:    "oriys/embedstar",
		Description: "Embedding pipeline",
		Language:    "Go",
		Stars:       128,
		Owner:       RepoOwner{Login: "oriys"},
	}
	want := "Repository: oriys/embedstar\nDescription: Embedding pipeline\nLanguage: Go\nStars: 128\nOwner: oriys"
	if got := repo.EmbeddingText(); got != want {
		t.Fatalf("EmbeddingText = %q, want %q", got, want)
	}

	bare := Repo{FullName: "a/b", Stars: 1, Owner: RepoOwner{Login: "a"}}
	want = "Repository: a/b\nStars: 1\nOwner: a"
	if got := bare.EmbeddingText(); got != want {
		t.Fatalf("EmbeddingText (bare) = %q, want %q", got, want)
	}
}

func TestReposNeedingEmbeddings(t *testing.T) {
	s, f := newTestStore(t)
	f.respond = func(sql string, vars map[string]any) (any, error) {
		return []map[string]any{
			{
				"id":         "repo:one",
				"full_name":  "octo/one",
				"stars":      10,
				"owner":      map[string]any{"login": "octo"},
				"updated_at": "2026-08-20T10:00:00Z",
			},
			{
				"id":         "repo:two",
				"full_name":  "octo/two",
				"stars":      3,
				"owner":      map[string]any{"login": "octo"},
				"updated_at": "2026-08-21T10:00:00Z",
			},
		}, nil
	}

	repos, err := s.ReposNeedingEmbeddings(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(repos) != 2 {
		t.Fatalf("got %d repos, want 2", len(repos))
	}
	if repos[0].ID != "repo:one" || repos[1].FullName != "octo/two" {
		t.Fatalf("repos = %+v", repos)
	}

	qs := f.captured()
	if len(qs) != 1 {
		t.Fatalf("captured %d queries, want 1", len(qs))
	}
	if !strings.Contains(qs[0].SQL, "embedding IS NONE OR updated_at > embedding_generated_at") {
		t.Fatalf("query missing discovery predicate: %s", qs[0].SQL)
	}
	if got := qs[0].Vars["limit"]; got != float64(100) {
		t.Fatalf("limit var = %v, want 100", got)
	}
}

func TestCounts(t *testing.T) {
	s, f := newTestStore(t)
	f.respond = func(sql string, vars map[string]any) (any, error) {
		switch {
		case strings.Contains(sql, "IS NOT NONE"):
			return []map[string]any{{"count": 7}}, nil
		case strings.Contains(sql, "WHERE"):
			return []map[string]any{{"count": 3}}, nil
		default:
			return []map[string]any{{"count": 10}}, nil
		}
	}

	ctx := context.Background()
	total, err := s.TotalRepoCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	embedded, err := s.EmbeddedRepoCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	pending, err := s.PendingRepoCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 10 || embedded != 7 || pending != 3 {
		t.Fatalf("counts = %d/%d/%d, want 10/7/3", total, embedded, pending)
	}
}

func TestCountEmptyResult(t *testing.T) {
	s, f := newTestStore(t)
	f.respond = func(sql string, vars map[string]any) (any, error) {
		return []map[string]any{}, nil
	}
	n, err := s.TotalRepoCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
}

func TestUpdateRepoEmbedding(t *testing.T) {
	s, f := newTestStore(t)
	f.respond = func(sql string, vars map[string]any) (any, error) {
		return []map[string]any{{
			"id":        "repo:one",
			"full_name": "octo/one",
			"owner":     map[string]any{"login": "octo"},
			"embedding": []float64{0.1, 0.2},
		}}, nil
	}

	err := s.UpdateRepoEmbedding(context.Background(), "repo:one", []float32{0.1, 0.2}, "nomic-embed-text")
	if err != nil {
		t.Fatal(err)
	}

	qs := f.captured()
	if len(qs) != 1 {
		t.Fatalf("captured %d queries, want 1", len(qs))
	}
	if !strings.HasPrefix(qs[0].SQL, "UPDATE repo:one SET embedding = $embedding") {
		t.Fatalf("unexpected SQL: %s", qs[0].SQL)
	}
	if qs[0].Vars["model"] != "nomic-embed-text" {
		t.Fatalf("model var = %v", qs[0].Vars["model"])
	}
	if !strings.Contains(qs[0].SQL, "embedding_generated_at = time::now()") {
		t.Fatalf("update must stamp generation time: %s", qs[0].SQL)
	}
}

func TestUpdateRepoEmbeddingNoMatch(t *testing.T) {
	s, f := newTestStore(t)
	f.respond = func(sql string, vars map[string]any) (any, error) {
		return []map[string]any{}, nil
	}
	err := s.UpdateRepoEmbedding(context.Background(), "repo:gone", []float32{0.1}, "m")
	if err == nil {
		t.Fatal("expected error when update matches nothing")
	}
}

func TestMigrate(t *testing.T) {
	s, f := newTestStore(t)
	f.respond = func(sql string, vars map[string]any) (any, error) {
		if strings.Contains(sql, "SELECT VALUE version") {
			return []int{}, nil
		}
		return nil, nil
	}

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	qs := f.captured()
	// Table setup, version read, then one transactional script per migration.
	if len(qs) != 4 {
		t.Fatalf("captured %d queries, want 4", len(qs))
	}
	if !strings.Contains(qs[0].SQL, "DEFINE TABLE IF NOT EXISTS migration SCHEMAFULL") {
		t.Fatalf("first query should create migration table: %s", qs[0].SQL)
	}
	for i, q := range qs[2:] {
		if !strings.HasPrefix(q.SQL, "BEGIN TRANSACTION;") || !strings.Contains(q.SQL, "COMMIT TRANSACTION;") {
			t.Fatalf("migration %d not transactional: %s", i+1, q.SQL)
		}
		if !strings.Contains(q.SQL, "CREATE migration CONTENT") {
			t.Fatalf("migration %d missing bookkeeping write: %s", i+1, q.SQL)
		}
	}
	if fmt.Sprint(qs[2].Vars["version"]) != "1" || fmt.Sprint(qs[3].Vars["version"]) != "2" {
		t.Fatalf("migrations out of order: %v then %v", qs[2].Vars["version"], qs[3].Vars["version"])
	}
}

func TestMigrateSkipsApplied(t *testing.T) {
	s, f := newTestStore(t)
	f.respond = func(sql string, vars map[string]any) (any, error) {
		if strings.Contains(sql, "SELECT VALUE version") {
			return []int{2}, nil
		}
		return nil, nil
	}

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Only table setup and version read; nothing applied.
	if qs := f.captured(); len(qs) != 2 {
		t.Fatalf("captured %d queries, want 2", len(qs))
	}
}

func TestRollback(t *testing.T) {
	s, f := newTestStore(t)
	f.respond = func(sql string, vars map[string]any) (any, error) {
		if strings.Contains(sql, "SELECT VALUE version") {
			return []int{2}, nil
		}
		return nil, nil
	}

	if err := s.Rollback(context.Background(), 0); err != nil {
		t.Fatal(err)
	}

	qs := f.captured()
	// Version read plus two rollback scripts, newest first.
	if len(qs) != 3 {
		t.Fatalf("captured %d queries, want 3", len(qs))
	}
	if !strings.Contains(qs[1].SQL, "REMOVE INDEX") {
		t.Fatalf("expected newest migration rolled back first: %s", qs[1].SQL)
	}
	if !strings.Contains(qs[2].SQL, "REMOVE FIELD") {
		t.Fatalf("expected field migration rolled back second: %s", qs[2].SQL)
	}
}
