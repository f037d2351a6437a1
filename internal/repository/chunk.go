package repository

import (
	"context"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles persistence of chunk embeddings in pgvector.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

// ReplaceChunks upserts the given chunks and removes any stale higher indices
// in a single transaction.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, ownerID, fileID string, chunks []domain.Chunk) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		for _, c := range chunks {
			createdAt := c.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO chunks
					(owner_id, file_id, chunk_index, content, token_count, embedding, embedding_model, embedding_dim, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				 ON CONFLICT (owner_id, file_id, chunk_index) DO UPDATE
				 SET content = EXCLUDED.content,
				     token_count = EXCLUDED.token_count,
				     embedding = EXCLUDED.embedding,
				     embedding_model = EXCLUDED.embedding_model,
				     embedding_dim = EXCLUDED.embedding_dim,
				     created_at = EXCLUDED.created_at`,
				ownerID, fileID, c.Index, c.Content, c.TokenCount,
				pgvector.NewVector(c.Embedding), c.EmbeddingModel, len(c.Embedding), createdAt,
			)
			if err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx,
			`DELETE FROM chunks WHERE owner_id = $1 AND file_id = $2 AND chunk_index >= $3`,
			ownerID, fileID, len(chunks),
		)
		return err
	})
}

func (r *ChunkRepository) ListByFile(ctx context.Context, ownerID, fileID string) ([]domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT owner_id, file_id, chunk_index, content, token_count, embedding::text, embedding_model, embedding_dim, created_at
		 FROM chunks
		 WHERE owner_id = $1 AND file_id = $2
		 ORDER BY chunk_index ASC`,
		ownerID, fileID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var raw string
		if err := rows.Scan(&c.OwnerID, &c.FileID, &c.Index, &c.Content, &c.TokenCount, &raw, &c.EmbeddingModel, &c.Dimensions, &c.CreatedAt); err != nil {
			return nil, err
		}
		var vec pgvector.Vector
		if err := vec.Parse(raw); err != nil {
			return nil, err
		}
		c.Embedding = vec.Slice()
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *ChunkRepository) DeleteByFile(ctx context.Context, ownerID, fileID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE owner_id = $1 AND file_id = $2`, ownerID, fileID)
	return err
}

// Search ranks the owner's chunks by cosine similarity. Only chunks whose
// dimensionality matches the query are compared.
func (r *ChunkRepository) Search(ctx context.Context, ownerID string, query []float32, opts domain.SearchOptions) ([]domain.SearchHit, error) {
	var fileIDs []string
	if len(opts.FileIDs) > 0 {
		fileIDs = opts.FileIDs
	}

	rows, err := r.db.Query(ctx,
		`WITH scoped AS MATERIALIZED (
			 SELECT file_id, chunk_index, content, embedding
			 FROM chunks
			 WHERE owner_id = $1
			   AND embedding_dim = $3
			   AND ($4::text[] IS NULL OR file_id = ANY($4::text[]))
			   AND ($5 = '' OR embedding_model = $5)
		 ), scored AS (
			 SELECT file_id, chunk_index, content, 1 - (embedding <=> $2) AS score
			 FROM scoped
		 )
		 SELECT file_id, chunk_index, content, score
		 FROM scored
		 WHERE score >= $6
		 ORDER BY score DESC, chunk_index ASC, file_id ASC
		 LIMIT $7`,
		ownerID, pgvector.NewVector(query), len(query), fileIDs, opts.Model, opts.Threshold, opts.TopK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []domain.SearchHit
	for rows.Next() {
		var h domain.SearchHit
		if err := rows.Scan(&h.FileID, &h.ChunkIndex, &h.Content, &h.Score); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
