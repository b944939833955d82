package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"nc-assistant/internal/domain"
	"nc-assistant/internal/retrieval"
)

type indexOptions struct {
	kb        string
	format    string
	batchSize int
	maxChars  int
	rateLimit float64

	extractJSON bool
	outDir      string
	upload      bool
}

func (o indexOptions) resolve() (domain.KnowledgeBase, retrieval.ExportFormat, error) {
	var kb domain.KnowledgeBase
	switch domain.KnowledgeBase(o.kb) {
	case domain.KnowledgeBaseTechDocs, domain.KnowledgeBaseNonConformities:
		kb = domain.KnowledgeBase(o.kb)
	default:
		return "", "", errors.Errorf("unknown knowledge base %q", o.kb)
	}
	format := retrieval.ExportFormat(o.format)
	switch format {
	case retrieval.ExportNC, retrieval.ExportTechDocs:
	case "":
		format = retrieval.ExportTechDocs
		if kb == domain.KnowledgeBaseNonConformities {
			format = retrieval.ExportNC
		}
	default:
		return "", "", errors.Errorf("unknown export format %q", o.format)
	}
	return kb, format, nil
}

func newIndexCmd(st *cliState) *cobra.Command {
	var o indexOptions
	cmd := &cobra.Command{
		Use:   "index FILE...",
		Short: "Embed TSV chunk exports into the SQLite knowledge base",
		Long: "Embed TSV chunk exports into the SQLite knowledge base. Files may be gzip\n" +
			"compressed. Rows already indexed are skipped.\n\n" +
			"With --extract-json the files are structured NC exports instead, split into one\n" +
			"<id>.json record per row under --out and, with --upload, into the NC bucket.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.extractJSON {
				return extractRecords(cmd, st, o, args)
			}
			kb, format, err := o.resolve()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a := &app{cfg: st.cfg}
			if err := a.initParams(ctx); err != nil {
				return err
			}
			embedder, err := a.newEmbedder()
			if err != nil {
				return err
			}
			store, err := retrieval.OpenSQLite(st.cfg.Retrieval.SQLitePath, embedder)
			if err != nil {
				return err
			}
			defer store.Close()

			ix, err := retrieval.NewIndexer(store, embedder, o.batchSize, o.maxChars)
			if err != nil {
				return err
			}
			ix.LimitRate(o.rateLimit)

			var total retrieval.IndexStats
			for _, path := range args {
				stats, err := indexFile(cmd, ix, kb, format, path)
				if err != nil {
					return err
				}
				total = addStats(total, stats)
			}

			counts, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			log.Info().Interface("rows", counts).Msg("Knowledge base size")
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(total)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.kb, "kb", string(domain.KnowledgeBaseTechDocs), "Knowledge base (tech_docs, non_conformities)")
	f.StringVar(&o.format, "format", "", "Export layout (techdocs, nc); defaults from --kb")
	f.IntVar(&o.batchSize, "batch-size", retrieval.DefaultBatchSize, "Rows per embedding request")
	f.IntVar(&o.maxChars, "max-chars", retrieval.DefaultMaxChars, "Truncate chunks longer than this")
	f.Float64Var(&o.rateLimit, "rate-limit", 0, "Embedding requests per second; 0 means unlimited")
	f.String("sqlite-path", "ncbot.db", "SQLite knowledge base path")
	f.String("embedding-model", "", "Embedding model")
	f.BoolVar(&o.extractJSON, "extract-json", false, "Split structured NC exports into JSON records")
	f.StringVar(&o.outDir, "out", "json", "Directory for extracted records; empty skips local files")
	f.BoolVar(&o.upload, "upload", false, "Also store extracted records in the NC bucket")
	return cmd
}

// recordSink writes extracted records to a directory, a bucket or both.
func recordSink(ctx context.Context, st *cliState, o indexOptions) (retrieval.RecordWriter, error) {
	var sinks []retrieval.RecordWriter
	if o.outDir != "" {
		if err := os.MkdirAll(o.outDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create output directory")
		}
		sinks = append(sinks, func(_ context.Context, id string, record []byte) error {
			return os.WriteFile(filepath.Join(o.outDir, recordKey(id)), record, 0o644)
		})
	}
	if o.upload {
		bucket := st.cfg.Storage.NCBucket
		if bucket == "" {
			return nil, errors.New("--upload needs storage.nc-bucket")
		}
		a := &app{cfg: st.cfg}
		store, err := a.newObjectStore(ctx)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, func(ctx context.Context, id string, record []byte) error {
			return store.Put(ctx, bucket, recordKey(id), record, "application/json")
		})
	}
	if len(sinks) == 0 {
		return nil, errors.New("nothing to do: set --out or --upload")
	}
	return func(ctx context.Context, id string, record []byte) error {
		for _, sink := range sinks {
			if err := sink(ctx, id, record); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// recordKey is the file and object name of one record. Path separators in
// ids are flattened.
func recordKey(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(id) + ".json"
}

func extractRecords(cmd *cobra.Command, st *cliState, o indexOptions, paths []string) error {
	ctx := cmd.Context()
	write, err := recordSink(ctx, st, o)
	if err != nil {
		return err
	}
	var total retrieval.ExtractStats
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrap(err, "open export")
		}
		stats, err := retrieval.ExtractRecords(ctx, f, write)
		_ = f.Close()
		if err != nil {
			return errors.Wrapf(err, "extract %s", path)
		}
		log.Info().Str("file", path).Interface("stats", stats).Msg("Records extracted")
		total.Rows += stats.Rows
		total.Written += stats.Written
		total.Short += stats.Short
		total.NoID += stats.NoID
		total.Invalid += stats.Invalid
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(total)
}

func indexFile(cmd *cobra.Command, ix *retrieval.Indexer, kb domain.KnowledgeBase, format retrieval.ExportFormat, path string) (retrieval.IndexStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return retrieval.IndexStats{}, errors.Wrap(err, "open export")
	}
	defer f.Close()

	stats, err := ix.IndexTSV(cmd.Context(), kb, f, format)
	if err != nil {
		return stats, errors.Wrapf(err, "index %s", path)
	}
	log.Info().Str("file", path).Interface("stats", stats).Msg("Indexed")
	return stats, nil
}

func addStats(a, b retrieval.IndexStats) retrieval.IndexStats {
	a.Rows += b.Rows
	a.Indexed += b.Indexed
	a.Malformed += b.Malformed
	a.Duplicate += b.Duplicate
	a.Empty += b.Empty
	a.Truncated += b.Truncated
	a.Failed += b.Failed
	return a
}
