package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"mcqforge/config"
	"mcqforge/internal/curriculum"
	"mcqforge/internal/diversity"
	"mcqforge/internal/fewshot"
	"mcqforge/internal/forge"
	"mcqforge/internal/llm"
	"mcqforge/internal/vectorsearch"
	"mcqforge/logging"
)

const maxBatchCount = 50

// ForgeRequest is the body of POST /api/forge.
type ForgeRequest struct {
	Topic string `json:"topic,omitempty"` // optional caller topic, bypasses the curriculum
	Count int    `json:"count"`
}

// ForgeResponse is the body returned by POST /api/forge.
type ForgeResponse struct {
	Items []forge.BatchItem `json:"items"`
	Error string            `json:"error,omitempty"`
}

// CORS middleware to handle cross-origin requests
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Cache-Control")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

type server struct {
	engine *forge.Engine
	spec   curriculum.Spec
}

func (s *server) forgeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := decodeForgeRequest(w, r)
	if !ok {
		return
	}

	items, err := s.engine.GenerateBatch(r.Context(), req.Count, req.Topic, nil)
	resp := ForgeResponse{Items: items}
	if err != nil {
		resp.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *server) forgeStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	// Decode before committing to a stream so a bad request still gets a
	// plain 400.
	req, ok := decodeForgeRequest(w, r)
	if !ok {
		return
	}

	// Set headers for Server-Sent Events
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	_, err := s.engine.GenerateBatch(r.Context(), req.Count, req.Topic, func(ev forge.ProgressEvent) {
		sendSSEEvent(w, ev)
	})
	if err != nil {
		sendSSEEvent(w, forge.ProgressEvent{Type: "error", Message: err.Error()})
	}
}

func (s *server) curriculumHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.spec)
}

func (s *server) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.engine.Stats())
}

func (s *server) historyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.engine.History())
}

func decodeForgeRequest(w http.ResponseWriter, r *http.Request) (ForgeRequest, bool) {
	var req ForgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return req, false
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Count > maxBatchCount {
		http.Error(w, fmt.Sprintf("count must be between 1 and %d", maxBatchCount), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func sendSSEEvent(w http.ResponseWriter, event forge.ProgressEvent) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func buildEngine() (*forge.Engine, curriculum.Spec, error) {
	cfg := config.AppConfig

	spec, overrides, err := curriculum.Load(cfg.Generation.CurriculumFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading curriculum: %w", err)
	}

	client, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing LLM client: %w", err)
	}

	embedder, err := vectorsearch.NewOllamaEmbedder(cfg.VectorSearch.EmbedHost, cfg.VectorSearch.EmbedModel)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing embedder: %w", err)
	}
	searcher, err := vectorsearch.NewQdrantSearcher(cfg.VectorSearch.URL, cfg.VectorSearch.Collection, embedder)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing vector search: %w", err)
	}

	var pool *fewshot.Pool
	if cfg.Generation.FewShotDir != "" {
		categories, err := fewshot.LoadDir(cfg.Generation.FewShotDir)
		if err != nil {
			return nil, nil, fmt.Errorf("loading few-shot examples: %w", err)
		}
		pool = fewshot.NewPool(categories, cfg.Generation.FewShotWeights, cfg.Generation.RecentExamples, nil)
	}

	engine := forge.NewEngine(forge.Options{
		Selector:  curriculum.NewSelector(),
		Spec:      spec,
		Overrides: overrides,
		Searcher:  searcher,
		LLM:       client,
		FewShot:   pool,
		Trackers: []diversity.Tracker{
			diversity.NewRhythmTracker(cfg.Generation.RhythmCap),
			diversity.NewQuestionFormatTracker(nil),
		},
		Retrieval:  cfg.Retrieval,
		Generation: cfg.Generation,
	})
	return engine, spec, nil
}

func main() {
	// Optional .env for API keys and service URLs.
	_ = godotenv.Load()

	if err := config.LoadConfig(); err != nil {
		logrus.Fatalf("Error loading configuration: %v", err)
	}

	logging.InitLogger()

	engine, spec, err := buildEngine()
	if err != nil {
		logrus.Fatalf("Error initializing engine: %v", err)
	}
	srv := &server{engine: engine, spec: spec}

	http.HandleFunc("/api/forge", corsMiddleware(srv.forgeHandler))
	http.HandleFunc("/api/forge/stream", corsMiddleware(srv.forgeStreamHandler))
	http.HandleFunc("/api/curriculum", corsMiddleware(srv.curriculumHandler))
	http.HandleFunc("/api/stats", corsMiddleware(srv.statsHandler))
	http.HandleFunc("/api/history", corsMiddleware(srv.historyHandler))
	http.HandleFunc("/health", corsMiddleware(healthCheckHandler))

	port := fmt.Sprintf(":%d", config.AppConfig.Server.Port)
	logrus.Infof("Starting server on port %s...", port)
	if err := http.ListenAndServe(port, nil); err != nil {
		logrus.Fatalf("Failed to start server: %v", err)
	}
}
