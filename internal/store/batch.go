package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/metrics"
	"github.com/oriys/embedstar/internal/retry"
)

// EmbeddingUpdate is one staged write: record, vector, producing model.
type EmbeddingUpdate struct {
	RecordID  string
	Embedding []float32
	Model     string
}

// BatchResult summarizes one write-back round.
type BatchResult struct {
	Total      int
	Successful int
	Failed     int
	Duration   time.Duration
}

// BatchUpdateEmbeddings writes all staged vectors in a single transaction on
// one pooled session. If the transaction fails, it degrades to per-row
// updates, each wrapped in the retry envelope.
func (s *Store) BatchUpdateEmbeddings(ctx context.Context, updates []EmbeddingUpdate) (BatchResult, error) {
	if len(updates) == 0 {
		return BatchResult{}, nil
	}

	start := time.Now()

	var sql strings.Builder
	sql.WriteString("BEGIN TRANSACTION;\n")
	vars := make(map[string]any, 2*len(updates))
	for i, u := range updates {
		fmt.Fprintf(&sql,
			"UPDATE %s SET embedding = $embedding_%d, embedding_model = $model_%d, embedding_generated_at = time::now();\n",
			u.RecordID, i, i,
		)
		vars[fmt.Sprintf("embedding_%d", i)] = u.Embedding
		vars[fmt.Sprintf("model_%d", i)] = u.Model
	}
	sql.WriteString("COMMIT TRANSACTION;")

	if _, err := s.query(ctx, sql.String(), vars); err != nil {
		logging.Op().Error("batch update failed, falling back to per-row updates",
			"batch_size", len(updates), "error", err)
		metrics.RecordBatchUpdate(false)
		return s.fallbackIndividualUpdates(ctx, updates)
	}

	duration := time.Since(start)
	metrics.RecordBatchUpdate(true)
	logging.Op().Info("batch updated embeddings",
		"count", len(updates),
		"duration", duration,
		"per_second", float64(len(updates))/duration.Seconds())

	return BatchResult{
		Total:      len(updates),
		Successful: len(updates),
		Duration:   duration,
	}, nil
}

func (s *Store) fallbackIndividualUpdates(ctx context.Context, updates []EmbeddingUpdate) (BatchResult, error) {
	start := time.Now()
	var successful, failed int

	for _, u := range updates {
		_, err := retry.Do(ctx, "update_embedding", s.retryCfg, func() (struct{}, error) {
			return struct{}{}, s.UpdateRepoEmbedding(ctx, u.RecordID, u.Embedding, u.Model)
		})
		if err != nil {
			logging.Op().Error("per-row embedding update failed",
				"record", u.RecordID, "error", err)
			failed++
			continue
		}
		successful++
	}

	return BatchResult{
		Total:      successful + failed,
		Successful: successful,
		Failed:     failed,
		Duration:   time.Since(start),
	}, nil
}
