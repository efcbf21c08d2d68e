// Package vectorsearch defines the vector search collaborator interface and
// its Qdrant HTTP implementation.
package vectorsearch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Document is one retrieved curriculum chunk.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Searcher returns documents similarity-ordered for a text query. Results
// must not be pre-deduplicated against history; the retriever does its own
// diversity bookkeeping.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Document, error)
}

// StableID returns a stable identifier for a document: an explicit metadata
// id when present, then a title/page combination, then a content hash.
func (d Document) StableID() string {
	if d.ID != "" {
		return d.ID
	}
	if d.Metadata != nil {
		if id, ok := metaString(d.Metadata, "id"); ok {
			return id
		}
		if id, ok := metaString(d.Metadata, "document_id"); ok {
			return id
		}
		title, hasTitle := metaString(d.Metadata, "title")
		page, hasPage := metaString(d.Metadata, "page_number")
		if hasTitle && hasPage {
			return title + "_" + page
		}
	}
	sum := md5.Sum([]byte(d.Text))
	return "hash_" + hex.EncodeToString(sum[:])[:16]
}

func metaString(meta map[string]any, key string) (string, bool) {
	v, ok := meta[key]
	if !ok || v == nil {
		return "", false
	}
	s := fmt.Sprintf("%v", v)
	if s == "" {
		return "", false
	}
	return s, true
}
