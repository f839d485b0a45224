package vectorctx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

const chunkSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id         TEXT PRIMARY KEY,
	file_path  TEXT NOT NULL,
	node_type  TEXT NOT NULL,
	node_name  TEXT NOT NULL,
	content    TEXT NOT NULL,
	embedding  BLOB,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_path);
`

// chunkStore persists embedded chunks in a per-project SQLite file and ranks
// them by cosine similarity in process.
type chunkStore struct {
	db *sql.DB
}

func openChunkStore(path string) (*chunkStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open context index: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure context index: %w", err)
		}
	}
	if _, err := db.Exec(chunkSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create context schema: %w", err)
	}
	return &chunkStore{db: db}, nil
}

// storedChunk is one row of the index.
type storedChunk struct {
	ID        string
	FilePath  string
	NodeType  string
	NodeName  string
	Content   string
	Embedding []float32
}

// replaceFile swaps all chunks of one file atomically.
func (s *chunkStore) replaceFile(ctx context.Context, filePath string, chunks []storedChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE file_path = ?", filePath); err != nil {
		return fmt.Errorf("delete stale chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, file_path, node_type, node_name, content, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.FilePath, c.NodeType, c.NodeName, c.Content,
			encodeEmbedding(c.Embedding), now,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *chunkStore) deleteFile(ctx context.Context, filePath string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE file_path = ?", filePath)
	return err
}

func (s *chunkStore) clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chunks")
	return err
}

func (s *chunkStore) count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

// scoredChunk pairs a stored chunk with its query similarity.
type scoredChunk struct {
	storedChunk
	Score float32
}

// search scans every chunk and returns the top-k by cosine similarity.
func (s *chunkStore) search(ctx context.Context, queryEmbedding []float32, k int) ([]scoredChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, file_path, node_type, node_name, content, embedding FROM chunks")
	if err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}
	defer rows.Close()

	var results []scoredChunk
	for rows.Next() {
		var c storedChunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.FilePath, &c.NodeType, &c.NodeName, &c.Content, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Embedding = decodeEmbedding(blob)
		results = append(results, scoredChunk{
			storedChunk: c,
			Score:       cosineSimilarity(queryEmbedding, c.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *chunkStore) close() error {
	return s.db.Close()
}

// encodeEmbedding packs float32 values into little-endian IEEE 754 bytes.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
