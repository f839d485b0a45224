// Package vectorctx maintains a per-project embedding index used to pull
// relevant code snippets into agent prompts. Chunks live in a SQLite file
// under the project's .aura directory; similarity ranking happens in process.
package vectorctx

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/internal/workspace"
)

const (
	indexDirName  = ".aura"
	indexFileName = "context.db"

	// defaultQueryLimit matches the snippet count agents are prompted with.
	defaultQueryLimit = 5
)

// Snippet is one retrieved chunk with its similarity score.
type Snippet struct {
	Document string
	FilePath string
	NodeType string
	NodeName string
	Score    float32
}

// Service indexes and retrieves chunks for a single (user, project) pair.
type Service struct {
	projectRoot string
	store       *chunkStore
	embedder    Embedder
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// Open loads or creates the context index for a project.
func Open(projectRoot string, embedder Embedder, logger *observability.Logger, metrics *observability.Metrics) (*Service, error) {
	indexDir := filepath.Join(projectRoot, indexDirName)
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	store, err := openChunkStore(filepath.Join(indexDir, indexFileName))
	if err != nil {
		return nil, err
	}
	return &Service{
		projectRoot: projectRoot,
		store:       store,
		embedder:    embedder,
		logger:      logger.WithFields("component", "vectorctx"),
		metrics:     metrics,
	}, nil
}

// Close releases the underlying index.
func (s *Service) Close() error {
	return s.store.close()
}

// Count reports how many chunks are indexed.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.count(ctx)
}

// ReindexFile replaces the indexed chunks of one file. relPath is
// slash-separated and relative to the project root. A file that yields no
// chunks has its stale entries removed.
func (s *Service) ReindexFile(ctx context.Context, relPath, content string) error {
	chunks, err := chunkFile(ctx, relPath, []byte(content))
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		s.logger.Debug(ctx, "no indexable chunks", "file", relPath)
		return s.store.deleteFile(ctx, relPath)
	}

	documents := make([]string, len(chunks))
	for i, c := range chunks {
		documents[i] = c.Document
	}
	embeddings, err := s.embedder.EmbedBatch(ctx, documents)
	if err != nil {
		s.metrics.RecordError("vectorctx", "embedding_failed")
		return fmt.Errorf("embed %s: %w", relPath, err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embed %s: got %d embeddings for %d chunks", relPath, len(embeddings), len(chunks))
	}

	stored := make([]storedChunk, len(chunks))
	for i, c := range chunks {
		stored[i] = storedChunk{
			ID:        fmt.Sprintf("%s-%s-%s", relPath, c.NodeType, c.NodeName),
			FilePath:  relPath,
			NodeType:  c.NodeType,
			NodeName:  c.NodeName,
			Content:   c.Document,
			Embedding: embeddings[i],
		}
	}
	if err := s.store.replaceFile(ctx, relPath, stored); err != nil {
		return err
	}
	s.logger.Debug(ctx, "reindexed file", "file", relPath, "chunks", len(stored))
	return nil
}

// ReindexProject drops the whole index and rebuilds it from the workspace.
// Unreadable or binary files are skipped with a warning; a file that fails
// to embed aborts the scan so a missing credential surfaces once, not per
// file.
func (s *Service) ReindexProject(ctx context.Context) error {
	if err := s.store.clear(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}

	err := filepath.WalkDir(s.projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.projectRoot && workspace.IsIgnoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.projectRoot, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		content, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn(ctx, "skipping unreadable file", "file", rel, "error", err)
			return nil
		}
		if !utf8.Valid(content) {
			s.logger.Debug(ctx, "skipping binary file", "file", rel)
			return nil
		}
		return s.ReindexFile(ctx, rel, string(content))
	})
	if err != nil {
		return err
	}

	count, err := s.store.count(ctx)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "project reindex complete", "chunks", count)
	return nil
}

// Query embeds the text and returns the k most similar chunks. An empty
// index yields no snippets and no error.
func (s *Service) Query(ctx context.Context, text string, k int) ([]Snippet, error) {
	if k <= 0 {
		k = defaultQueryLimit
	}
	count, err := s.store.count(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		s.metrics.RecordError("vectorctx", "embedding_failed")
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, nil
	}

	scored, err := s.store.search(ctx, embeddings[0], k)
	if err != nil {
		return nil, err
	}
	snippets := make([]Snippet, len(scored))
	for i, sc := range scored {
		snippets[i] = Snippet{
			Document: sc.Content,
			FilePath: sc.FilePath,
			NodeType: sc.NodeType,
			NodeName: sc.NodeName,
			Score:    sc.Score,
		}
	}
	return snippets, nil
}
