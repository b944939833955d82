package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver

	"nc-assistant/internal/domain"
)

// Document is one chunk to index.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// SQLiteStore is a local vector index with one table per knowledge base.
// Vectors are stored as blobs and ranked by brute-force cosine similarity,
// which is adequate for the few tens of thousands of chunks per base.
type SQLiteStore struct {
	db       *sql.DB
	path     string
	embedder Embedder
}

var knowledgeBases = []domain.KnowledgeBase{
	domain.KnowledgeBaseTechDocs,
	domain.KnowledgeBaseNonConformities,
}

// OpenSQLite opens (or creates) the index at path. ":memory:" gives a
// throwaway index.
func OpenSQLite(path string, embedder Embedder) (*SQLiteStore, error) {
	if embedder == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.Wrap(err, "retrieval: create index directory")
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "retrieval: open index")
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &SQLiteStore{db: db, path: path, embedder: embedder}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func tableFor(kb domain.KnowledgeBase) (string, error) {
	for _, k := range knowledgeBases {
		if k == kb {
			return "kb_" + string(kb), nil
		}
	}
	return "", errors.Errorf("retrieval: unknown knowledge base %q", kb)
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, kb := range knowledgeBases {
		table, _ := tableFor(kb)
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id        TEXT PRIMARY KEY,
			content   TEXT NOT NULL,
			metadata  TEXT NOT NULL DEFAULT '{}',
			embedding BLOB NOT NULL
		)`, table)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "retrieval: create table %s", table)
		}
	}
	return nil
}

// Insert stores documents with their vectors in one transaction. Ids already
// present are left unchanged.
func (s *SQLiteStore) Insert(ctx context.Context, kb domain.KnowledgeBase, docs []Document, vecs [][]float32) (int, error) {
	if len(docs) != len(vecs) {
		return 0, errors.Errorf("retrieval: %d documents but %d vectors", len(docs), len(vecs))
	}
	table, err := tableFor(kb)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "retrieval: begin insert")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, content, metadata, embedding) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`, table))
	if err != nil {
		return 0, errors.Wrap(err, "retrieval: prepare insert")
	}
	defer stmt.Close()

	inserted := 0
	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return 0, errors.Wrapf(err, "retrieval: marshal metadata of %s", d.ID)
		}
		if d.Metadata == nil {
			meta = []byte("{}")
		}
		res, err := stmt.ExecContext(ctx, d.ID, d.Content, string(meta), encodeVector(vecs[i]))
		if err != nil {
			return 0, errors.Wrapf(err, "retrieval: insert %s", d.ID)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "retrieval: commit insert")
	}
	return inserted, nil
}

// Query embeds the query and returns the limit most similar chunks.
func (s *SQLiteStore) Query(ctx context.Context, kb domain.KnowledgeBase, query string, limit int) (domain.RetrievalResult, error) {
	res := domain.RetrievalResult{KnowledgeBase: kb, Items: []domain.SourceItem{}}
	table, err := tableFor(kb)
	if err != nil {
		return res, err
	}
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return res, errors.Wrap(err, "retrieval: embed query")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT content, metadata, embedding FROM %s`, table))
	if err != nil {
		return res, errors.Wrapf(ErrUnavailable, "query %s: %v", table, err)
	}
	defer rows.Close()

	type scored struct {
		item  domain.SourceItem
		score float64
	}
	var candidates []scored
	for rows.Next() {
		var (
			content, meta string
			blob          []byte
		)
		if err := rows.Scan(&content, &meta, &blob); err != nil {
			return res, errors.Wrapf(ErrUnavailable, "scan %s: %v", table, err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return res, errors.Wrapf(ErrUnavailable, "%s: %v", table, err)
		}
		item := domain.SourceItem{Content: content}
		if strings.TrimSpace(meta) != "" {
			if err := json.Unmarshal([]byte(meta), &item.Metadata); err != nil {
				log.Warn().Err(err).Str("table", table).Msg("Skipping chunk with unreadable metadata")
				continue
			}
		}
		candidates = append(candidates, scored{item: item, score: cosine(qv, vec)})
	}
	if err := rows.Err(); err != nil {
		return res, errors.Wrapf(ErrUnavailable, "iterate %s: %v", table, err)
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, c := range candidates {
		score := c.score
		c.item.Relevance = &score
		res.Items = append(res.Items, c.item)
	}
	return res, nil
}

// Stats counts indexed chunks per knowledge base. It doubles as the index
// health check.
func (s *SQLiteStore) Stats(ctx context.Context) (map[domain.KnowledgeBase]int, error) {
	out := make(map[domain.KnowledgeBase]int, len(knowledgeBases))
	for _, kb := range knowledgeBases {
		table, _ := tableFor(kb)
		var n int
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n); err != nil {
			return nil, errors.Wrapf(ErrUnavailable, "count %s: %v", table, err)
		}
		out[kb] = n
	}
	return out, nil
}
