package vectorsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const maxErrorBodyBytes = 1024

// Embedder turns a text query into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// QdrantSearcher queries a Qdrant collection over its HTTP API.
type QdrantSearcher struct {
	baseURL    string
	collection string
	embedder   Embedder
	http       *http.Client
}

// NewQdrantSearcher builds a searcher against the given Qdrant endpoint.
func NewQdrantSearcher(url, collection string, embedder Embedder) (*QdrantSearcher, error) {
	if url == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	logrus.Infof("Qdrant vector search selected: url=%s collection=%s", url, collection)
	return &QdrantSearcher{
		baseURL:    strings.TrimRight(url, "/"),
		collection: collection,
		embedder:   embedder,
		http:       &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type qdrantEnvelope struct {
	Result []qdrantSearchResultItem `json:"result"`
	Status json.RawMessage          `json:"status"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

// Search embeds the query and runs a similarity search, returning documents
// in Qdrant's score order.
func (s *QdrantSearcher) Search(ctx context.Context, query string, topK int) ([]Document, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/collections/%s/points/search", s.baseURL, s.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("qdrant search: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var envelope qdrantEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("qdrant search: decoding response: %w", err)
	}

	docs := make([]Document, 0, len(envelope.Result))
	for _, item := range envelope.Result {
		docs = append(docs, documentFromPayload(item))
	}
	logrus.Debugf("Qdrant returned %d documents for query '%s'", len(docs), query)
	return docs, nil
}

func documentFromPayload(item qdrantSearchResultItem) Document {
	doc := Document{
		ID:       strings.Trim(string(item.ID), `"`),
		Metadata: map[string]any{},
	}
	for key, value := range item.Payload {
		if key == "text" {
			if text, ok := value.(string); ok {
				doc.Text = text
				continue
			}
		}
		doc.Metadata[key] = value
	}
	return doc
}
