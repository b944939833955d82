package retrieval

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ExtractStats summarises one record extraction run.
type ExtractStats struct {
	Rows    int `json:"rows"`
	Written int `json:"written"`
	Short   int `json:"short"`
	NoID    int `json:"no_id"`
	Invalid int `json:"invalid"`
}

// RecordWriter receives one extracted record, indented, keyed by its id.
type RecordWriter func(ctx context.Context, id string, record []byte) error

// ExtractRecords splits a structured NC export into one JSON record per row.
// The export has a header row; the second to last column is the record id
// and the last one the record, possibly JSON-encoded twice. Rows without an
// id or with an unparsable record are skipped; write errors abort the run.
func ExtractRecords(ctx context.Context, r io.Reader, write RecordWriter) (ExtractStats, error) {
	var stats ExtractStats
	src, err := maybeGunzip(r)
	if err != nil {
		return stats, err
	}
	reader := csv.NewReader(src)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		return stats, errors.Wrap(err, "retrieval: read header")
	}

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				stats.Invalid++
				log.Warn().Err(err).Int("line", line).Msg("Skipping unparsable row")
				continue
			}
			return stats, errors.Wrap(err, "retrieval: read export")
		}
		stats.Rows++

		if len(row) < 2 {
			stats.Short++
			continue
		}
		id := strings.TrimSpace(row[len(row)-2])
		if id == "" {
			stats.NoID++
			log.Warn().Int("line", line).Msg("Skipping row without id")
			continue
		}
		record, err := decodeRecord(row[len(row)-1])
		if err != nil {
			stats.Invalid++
			log.Warn().Err(err).Int("line", line).Str("id", id).Msg("Skipping invalid record")
			continue
		}
		if err := write(ctx, id, record); err != nil {
			return stats, errors.Wrapf(err, "retrieval: write record %s", id)
		}
		stats.Written++
	}
	return stats, nil
}

// decodeRecord returns the indented JSON object held by field. The export
// escapes quotes with backslashes, so a field that is not JSON as read is
// retried as the body of a JSON string. A JSON string is decoded once more.
func decodeRecord(field string) ([]byte, error) {
	raw := []byte(strings.TrimSpace(field))
	if !json.Valid(raw) {
		var s string
		if err := json.Unmarshal([]byte(`"`+string(raw)+`"`), &s); err != nil {
			return nil, errors.New("record is not JSON")
		}
		raw = []byte(s)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = []byte(s)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.Wrap(err, "record is not a JSON object")
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return nil, errors.Wrap(err, "indent record")
	}
	return out.Bytes(), nil
}
