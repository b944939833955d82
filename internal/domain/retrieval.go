package domain

import (
	"bytes"
	"encoding/json"
)

// KnowledgeBase names one of the retrievable passage collections.
type KnowledgeBase string

const (
	KnowledgeBaseTechDocs        KnowledgeBase = "tech_docs"
	KnowledgeBaseNonConformities KnowledgeBase = "non_conformities"
)

// SourceItem is one ranked passage returned by the retrieval gateway.
type SourceItem struct {
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Relevance *float64       `json:"relevance,omitempty"`
}

// RetrievalResult is the ranked list produced for one knowledge base. An empty
// Items slice is a valid result.
type RetrievalResult struct {
	KnowledgeBase KnowledgeBase `json:"knowledge_base"`
	Items         []SourceItem  `json:"items"`
}

// FormattedSources is the flat shape handed to prompts and clients:
// {"sources": [{"content": ..., <metadata keys>...}]}.
type FormattedSources struct {
	Sources []map[string]any `json:"sources"`
}

// Sources carries both retrieval collections. The fields stay raw so that
// caller-supplied values are echoed back byte for byte.
type Sources struct {
	TechDocs        json.RawMessage `json:"tech_docs"`
	NonConformities json.RawMessage `json:"non_conformities"`
}

// Empty reports whether neither collection carries a value.
func (s *Sources) Empty() bool {
	if s == nil {
		return true
	}
	return isNullJSON(s.TechDocs) && isNullJSON(s.NonConformities)
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
