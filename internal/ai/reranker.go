package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"docchat/internal/retrieval"
)

type RerankerConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPReranker calls a cross-encoder service exposing POST /rerank with the
// Cohere/Jina request shape (TEI and most self-hosted servers accept it).
type HTTPReranker struct {
	httpClient *http.Client
	cfg        RerankerConfig
}

func NewHTTPReranker(cfg RerankerConfig) *HTTPReranker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &HTTPReranker{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []retrieval.Chunk, topK int) ([]retrieval.Chunk, error) {
	if len(candidates) == 0 || topK <= 0 {
		return nil, nil
	}
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}
	bodyBytes, err := json.Marshal(rerankRequest{
		Model:     r.cfg.Model,
		Query:     query,
		Documents: docs,
		TopN:      min(topK, len(candidates)),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request failed: %w", err)
	}

	url := strings.TrimRight(r.cfg.BaseURL, "/") + "/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build rerank request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rerank response status %d: %s", resp.StatusCode, string(raw))
	}

	results, err := parseRerankResults(raw)
	if err != nil {
		return nil, err
	}
	return applyRerank(candidates, results, topK), nil
}

// parseRerankResults accepts {"results":[...]} and a bare array (TEI).
func parseRerankResults(raw []byte) ([]rerankResult, error) {
	var wrapped struct {
		Results []rerankResult `json:"results"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Results != nil {
		return wrapped.Results, nil
	}
	var bare []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, fmt.Errorf("parse rerank json failed: %w", err)
	}
	out := make([]rerankResult, len(bare))
	for i, b := range bare {
		out[i] = rerankResult{Index: b.Index, RelevanceScore: b.Score}
	}
	return out, nil
}

// applyRerank orders candidates by relevance, keeping the service's order on
// ties. Raw logits are squashed into [0,1].
func applyRerank(candidates []retrieval.Chunk, results []rerankResult, topK int) []retrieval.Chunk {
	needSigmoid := false
	for _, res := range results {
		if res.RelevanceScore < 0 || res.RelevanceScore > 1 {
			needSigmoid = true
			break
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})

	out := make([]retrieval.Chunk, 0, min(topK, len(results)))
	used := make(map[int]struct{}, len(results))
	for _, res := range results {
		if len(out) == topK {
			break
		}
		if res.Index < 0 || res.Index >= len(candidates) {
			continue
		}
		if _, dup := used[res.Index]; dup {
			continue
		}
		used[res.Index] = struct{}{}
		c := candidates[res.Index]
		c.Score = res.RelevanceScore
		if needSigmoid {
			c.Score = 1 / (1 + math.Exp(-res.RelevanceScore))
		}
		out = append(out, c)
	}
	return out
}
