package retrieval

import "nc-assistant/internal/domain"

// Format flattens each passage into one record holding its content and
// metadata, wrapped under a single "sources" key. Metadata never overrides
// the content field.
func Format(res domain.RetrievalResult) domain.FormattedSources {
	out := domain.FormattedSources{Sources: make([]map[string]any, 0, len(res.Items))}
	for _, item := range res.Items {
		rec := make(map[string]any, len(item.Metadata)+2)
		for k, v := range item.Metadata {
			rec[k] = v
		}
		rec["content"] = item.Content
		if item.Relevance != nil {
			if _, taken := rec["relevance"]; !taken {
				rec["relevance"] = *item.Relevance
			}
		}
		out.Sources = append(out.Sources, rec)
	}
	return out
}
