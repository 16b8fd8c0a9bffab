// Package db provides the SurrealDB client used by the pipeline: a
// token-authenticated HTTP RPC session and a bounded session pool.
package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/embedstar/internal/logging"
)

const (
	signinTimeout = 5 * time.Second
	selectTimeout = 5 * time.Second
	probeTimeout  = 5 * time.Second
)

// Config carries the connection settings for one database endpoint.
type Config struct {
	URL       string
	User      string
	Pass      string
	Namespace string
	Database  string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Session is one authenticated connection. A session is owned by a single
// goroutine between pool acquire and release.
type Session struct {
	id      string
	baseURL string
	ns      string
	db      string
	token   string
	client  *http.Client
	created time.Time

	nextID atomic.Uint64
}

type signinRequest struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

type signinResponse struct {
	Code  int    `json:"code"`
	Token string `json:"token"`
}

type rpcRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// baseEndpoint normalizes the configured URL. The database speaks both
// websocket and HTTP on the same port, so ws:// aliases are accepted.
func baseEndpoint(raw string) string {
	switch {
	case strings.HasPrefix(raw, "ws://"):
		raw = "http://" + strings.TrimPrefix(raw, "ws://")
	case strings.HasPrefix(raw, "wss://"):
		raw = "https://" + strings.TrimPrefix(raw, "wss://")
	}
	return strings.TrimRight(raw, "/")
}

// Open authenticates a fresh session: sign in as root, then verify the
// namespace/database selection with a trivial query. Each step carries its
// own timeout under the caller's context.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	s := &Session{
		id:      uuid.NewString()[:8],
		baseURL: baseEndpoint(cfg.URL),
		ns:      cfg.Namespace,
		db:      cfg.Database,
		client:  client,
		created: time.Now(),
	}

	if err := s.signin(ctx, cfg.User, cfg.Pass); err != nil {
		return nil, fmt.Errorf("signin: %w", err)
	}
	if err := s.selectTarget(ctx); err != nil {
		return nil, fmt.Errorf("select %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	logging.Op().Debug("database session opened", "session", s.id)
	return s, nil
}

func (s *Session) signin(ctx context.Context, user, pass string) error {
	ctx, cancel := context.WithTimeout(ctx, signinTimeout)
	defer cancel()

	body, err := json.Marshal(signinRequest{User: user, Pass: pass})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/signin", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out signinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode signin response: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("signin returned no token")
	}

	s.token = out.Token
	return nil
}

// selectTarget proves the namespace/database pair is reachable for this
// session's credentials.
func (s *Session) selectTarget(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, selectTimeout)
	defer cancel()

	var n int
	resp, err := s.Query(ctx, "RETURN 1", nil)
	if err != nil {
		return err
	}
	if err := resp.Take(0, &n); err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("unexpected probe result %d", n)
	}
	return nil
}

// Query executes one or more statements and returns the per-statement
// results in order. vars are bound as named parameters.
func (s *Session) Query(ctx context.Context, sql string, vars map[string]any) (*Response, error) {
	if vars == nil {
		vars = map[string]any{}
	}

	body, err := json.Marshal(rpcRequest{
		ID:     fmt.Sprintf("%s-%d", s.id, s.nextID.Add(1)),
		Method: "query",
		Params: []any{sql, vars},
	})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Surreal-NS", s.ns)
	req.Header.Set("Surreal-DB", s.db)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("query status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	if rpc.Error != nil {
		return nil, fmt.Errorf("query rejected (%d): %s", rpc.Error.Code, rpc.Error.Message)
	}

	return parseResponse(rpc.Result)
}

// Ping issues the liveness probe used for recycling.
func (s *Session) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := s.Query(ctx, "RETURN 1", nil)
	if err != nil {
		return err
	}
	var n int
	if err := resp.Take(0, &n); err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("unexpected probe result %d", n)
	}
	return nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Age reports how long the session has existed.
func (s *Session) Age() time.Duration { return time.Since(s.created) }
