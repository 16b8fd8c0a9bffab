// Package store runs the pipeline's queries against the repo database:
// discovery scans, embedding write-back and schema migrations.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oriys/embedstar/internal/db"
	"github.com/oriys/embedstar/internal/embederr"
	"github.com/oriys/embedstar/internal/retry"
)

// needsEmbedding is the discovery predicate: no vector yet, or the source
// fields changed after the vector was generated.
const needsEmbedding = "embedding IS NONE OR updated_at > embedding_generated_at"

// RepoOwner is the owning account of a repository record.
type RepoOwner struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// Repo is a repository record as stored in the database.
type Repo struct {
	ID                   string     `json:"id"`
	GithubID             int64      `json:"github_id"`
	Name                 string     `json:"name"`
	FullName             string     `json:"full_name"`
	Description          string     `json:"description,omitempty"`
	URL                  string     `json:"url"`
	Stars                int        `json:"stars"`
	Language             string     `json:"language,omitempty"`
	Owner                RepoOwner  `json:"owner"`
	IsPrivate            bool       `json:"is_private"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	Embedding            []float32  `json:"embedding,omitempty"`
	EmbeddingGeneratedAt *time.Time `json:"embedding_generated_at,omitempty"`
}

// NeedsEmbedding mirrors the discovery predicate on an in-memory record.
func (r *Repo) NeedsEmbedding() bool {
	if r.Embedding == nil {
		return true
	}
	if r.EmbeddingGeneratedAt == nil {
		return true
	}
	return r.UpdatedAt.After(*r.EmbeddingGeneratedAt)
}

// EmbeddingText renders the document handed to the embedding provider.
// Optional lines are omitted when the field is empty.
func (r *Repo) EmbeddingText() string {
	parts := []string{fmt.Sprintf("Repository: %s", r.FullName)}
	if r.Description != "" {
		parts = append(parts, fmt.Sprintf("Description: %s", r.Description))
	}
	if r.Language != "" {
		parts = append(parts, fmt.Sprintf("Language: %s", r.Language))
	}
	parts = append(parts,
		fmt.Sprintf("Stars: %d", r.Stars),
		fmt.Sprintf("Owner: %s", r.Owner.Login),
	)
	return strings.Join(parts, "\n")
}

// Store issues queries over pooled sessions.
type Store struct {
	pool     *db.Pool
	retryCfg retry.Config
}

// New builds a Store. retryCfg governs the per-row fallback writes.
func New(pool *db.Pool, retryCfg retry.Config) *Store {
	return &Store{pool: pool, retryCfg: retryCfg}
}

// Pool exposes the underlying session pool for health inquiries.
func (s *Store) Pool() *db.Pool { return s.pool }

func (s *Store) query(ctx context.Context, sql string, vars map[string]any) (*db.Response, error) {
	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, embederr.Wrap(embederr.Database, fmt.Errorf("acquire session: %w", err))
	}
	defer s.pool.Release(sess)

	resp, err := sess.Query(ctx, sql, vars)
	if err != nil {
		return nil, embederr.Wrap(embederr.Database, err)
	}
	return resp, nil
}

// ReposNeedingEmbeddings returns up to limit records matching the discovery
// predicate.
func (s *Store) ReposNeedingEmbeddings(ctx context.Context, limit int) ([]Repo, error) {
	sql := fmt.Sprintf("SELECT * FROM repo WHERE %s LIMIT $limit", needsEmbedding)
	resp, err := s.query(ctx, sql, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}

	var repos []Repo
	if err := resp.Take(0, &repos); err != nil {
		return nil, embederr.Wrap(embederr.Database, err)
	}
	return repos, nil
}

func (s *Store) count(ctx context.Context, sql string) (int, error) {
	resp, err := s.query(ctx, sql, nil)
	if err != nil {
		return 0, err
	}

	var row struct {
		Count int `json:"count"`
	}
	found, err := resp.TakeFirst(0, &row)
	if err != nil {
		return 0, embederr.Wrap(embederr.Database, err)
	}
	if !found {
		return 0, nil
	}
	return row.Count, nil
}

// TotalRepoCount counts every repository record.
func (s *Store) TotalRepoCount(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT count() FROM repo GROUP ALL")
}

// EmbeddedRepoCount counts records that already carry a vector.
func (s *Store) EmbeddedRepoCount(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT count() FROM repo WHERE embedding IS NOT NONE GROUP ALL")
}

// PendingRepoCount counts records still matching the discovery predicate.
func (s *Store) PendingRepoCount(ctx context.Context) (int, error) {
	return s.count(ctx, fmt.Sprintf("SELECT count() FROM repo WHERE %s GROUP ALL", needsEmbedding))
}

// UpdateRepoEmbedding writes one vector and stamps the generation time.
// Record ids are interpolated, not bound: they originate from the database
// itself, never from user input.
func (s *Store) UpdateRepoEmbedding(ctx context.Context, recordID string, vector []float32, model string) error {
	sql := fmt.Sprintf(
		"UPDATE %s SET embedding = $embedding, embedding_model = $model, embedding_generated_at = time::now()",
		recordID,
	)
	resp, err := s.query(ctx, sql, map[string]any{
		"embedding": vector,
		"model":     model,
	})
	if err != nil {
		return err
	}

	var updated Repo
	found, err := resp.TakeFirst(0, &updated)
	if err != nil {
		return embederr.Wrap(embederr.Database, err)
	}
	if !found {
		return embederr.New(embederr.Database, "update of %s matched no record", recordID)
	}
	return nil
}
