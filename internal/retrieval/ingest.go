package retrieval

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"nc-assistant/internal/domain"
)

const (
	DefaultBatchSize = 100
	DefaultMaxChars  = 30000
)

// ExportFormat selects the column layout of a chunk export.
type ExportFormat string

const (
	// ExportNC is doc, chunk_id, chunk with no header row.
	ExportNC ExportFormat = "nc"
	// ExportTechDocs is doc, doc_root, json_data, chunk, length, chunk_id,
	// ata, parts, doc_type with a header row.
	ExportTechDocs ExportFormat = "techdocs"
)

// IndexStats summarises one ingestion run.
type IndexStats struct {
	Rows      int `json:"rows"`
	Indexed   int `json:"indexed"`
	Malformed int `json:"malformed"`
	Duplicate int `json:"duplicate"`
	Empty     int `json:"empty"`
	Truncated int `json:"truncated"`
	Failed    int `json:"failed"`
}

type documentWriter interface {
	Insert(ctx context.Context, kb domain.KnowledgeBase, docs []Document, vecs [][]float32) (int, error)
}

// Indexer embeds chunk exports and writes them into a store.
type Indexer struct {
	store     documentWriter
	embedder  Embedder
	batchSize int
	maxChars  int
	limiter   *rate.Limiter
}

func NewIndexer(store documentWriter, embedder Embedder, batchSize, maxChars int) (*Indexer, error) {
	if store == nil {
		return nil, errors.New("retrieval: store must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Indexer{
		store:     store,
		embedder:  embedder,
		batchSize: batchSize,
		maxChars:  maxChars,
		limiter:   rate.NewLimiter(rate.Inf, 1),
	}, nil
}

// LimitRate caps embedding requests at perSecond. Zero or less removes the cap.
func (ix *Indexer) LimitRate(perSecond float64) {
	if perSecond <= 0 {
		ix.limiter.SetLimit(rate.Inf)
		return
	}
	ix.limiter.SetLimit(rate.Limit(perSecond))
}


// IndexTSV reads a tab-separated export, gzip-compressed or not, and indexes
// it into kb in batches. Malformed rows, duplicate ids and empty chunks are
// skipped. A failed batch is retried one document at a time so a single bad
// chunk only loses itself.
func (ix *Indexer) IndexTSV(ctx context.Context, kb domain.KnowledgeBase, r io.Reader, format ExportFormat) (IndexStats, error) {
	var stats IndexStats
	src, err := maybeGunzip(r)
	if err != nil {
		return stats, err
	}
	reader := csv.NewReader(src)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	if format == ExportTechDocs {
		if _, err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, errors.Wrap(err, "retrieval: read header")
		}
	}

	seen := make(map[string]struct{})
	batch := make([]Document, 0, ix.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, failed, err := ix.writeBatch(ctx, kb, batch)
		stats.Indexed += n
		stats.Failed += failed
		batch = batch[:0]
		return err
	}

	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				stats.Malformed++
				log.Warn().Err(err).Int("line", line).Msg("Skipping unparsable row")
				continue
			}
			return stats, errors.Wrap(err, "retrieval: read export")
		}
		stats.Rows++

		doc, ok := parseRow(row, format)
		if !ok {
			stats.Malformed++
			log.Warn().Int("line", line).Int("columns", len(row)).Msg("Skipping malformed row")
			continue
		}
		if _, dup := seen[doc.ID]; dup {
			stats.Duplicate++
			log.Warn().Str("chunk_id", doc.ID).Msg("Skipping duplicate chunk")
			continue
		}
		if strings.TrimSpace(doc.Content) == "" {
			stats.Empty++
			continue
		}
		if runes := []rune(doc.Content); len(runes) > ix.maxChars {
			doc.Content = string(runes[:ix.maxChars])
			stats.Truncated++
		}
		seen[doc.ID] = struct{}{}
		batch = append(batch, doc)

		if len(batch) >= ix.batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
			log.Info().Str("knowledge_base", string(kb)).Int("indexed", stats.Indexed).Msg("Batch indexed")
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// writeBatch embeds and stores docs. Embedding failures fall back to one
// request per document; storage and rate limit failures abort the run.
func (ix *Indexer) writeBatch(ctx context.Context, kb domain.KnowledgeBase, docs []Document) (int, int, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	if err := ix.limiter.Wait(ctx); err != nil {
		return 0, 0, errors.Wrap(err, "retrieval: embedding rate limit")
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) == len(docs) {
		n, err := ix.store.Insert(ctx, kb, docs, vecs)
		return n, 0, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, 0, ctxErr
	}
	log.Warn().Err(err).Int("batch", len(docs)).Msg("Batch embedding failed, retrying documents one by one")

	var (
		kept     []Document
		keptVecs [][]float32
		failed   int
	)
	for _, d := range docs {
		if err := ix.limiter.Wait(ctx); err != nil {
			return 0, failed, errors.Wrap(err, "retrieval: embedding rate limit")
		}
		v, err := ix.embedder.Embed(ctx, d.Content)
		if err != nil {
			failed++
			log.Error().Err(err).Str("chunk_id", d.ID).Msg("Could not embed chunk, skipping")
			continue
		}
		kept = append(kept, d)
		keptVecs = append(keptVecs, v)
	}
	if len(kept) == 0 {
		return 0, failed, nil
	}
	n, err := ix.store.Insert(ctx, kb, kept, keptVecs)
	return n, failed, err
}

func parseRow(row []string, format ExportFormat) (Document, bool) {
	switch format {
	case ExportNC:
		if len(row) != 3 {
			return Document{}, false
		}
		return Document{
			ID:      row[1],
			Content: row[2],
			Metadata: map[string]any{
				"doc":      row[0],
				"chunk_id": row[1],
			},
		}, true
	case ExportTechDocs:
		if len(row) < 9 {
			return Document{}, false
		}
		length, err := strconv.Atoi(row[4])
		if err != nil {
			length = 0
		}
		return Document{
			ID:      row[5],
			Content: row[3],
			Metadata: map[string]any{
				"doc":       row[0],
				"doc_root":  row[1],
				"json_data": row[2],
				"length":    length,
				"chunk_id":  row[5],
				"ATA":       row[6],
				"parts":     row[7],
				"doc_type":  row[8],
			},
		}, true
	}
	return Document{}, false
}

func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "retrieval: peek export")
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "retrieval: open gzip export")
		}
		return zr, nil
	}
	return br, nil
}
