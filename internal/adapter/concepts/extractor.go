// Package concepts extracts topical concept labels from interaction text
// using an LLM. Extraction is best effort: the store treats an empty
// concept list as a record that simply does not participate in spreading
// activation.
package concepts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mnemo/internal/domain"
)

const extractPrompt = `Extract up to 5 short concept labels from the text below.
Respond with a JSON array of lowercase strings and nothing else.
Example: ["go concurrency", "mutexes"]

Text:
`

// Option configures the extractor.
type Option func(*Extractor)

// WithModel sets the chat model used for extraction.
func WithModel(model string) Option {
	return func(e *Extractor) { e.model = model }
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(e *Extractor) { e.baseURL = url }
}

// WithClient sets a custom HTTP client.
func WithClient(client *http.Client) Option {
	return func(e *Extractor) { e.client = client }
}

// WithMaxConcepts caps the number of labels returned per extraction.
func WithMaxConcepts(n int) Option {
	return func(e *Extractor) { e.maxConcepts = n }
}

// Extractor implements domain.ConceptExtractor against the Ollama chat API.
type Extractor struct {
	model       string
	baseURL     string
	maxConcepts int
	client      *http.Client
}

// New creates a concept extractor. The baseURL defaults to
// http://localhost:11434.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		model:       "llama3.2",
		baseURL:     "http://localhost:11434",
		maxConcepts: 5,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// Extract implements domain.ConceptExtractor.
func (e *Extractor) Extract(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	body, err := json.Marshal(chatRequest{
		Model:    e.model,
		Messages: []chatMessage{{Role: "user", Content: extractPrompt + text}},
		Stream:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrProviderUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrProviderUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: chat returned %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, msg)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrProviderUnavailable, err)
	}

	return e.parseLabels(parsed.Message.Content), nil
}

// parseLabels pulls a JSON string array out of model output. Models wrap
// the array in prose or code fences often enough that strict parsing
// would discard usable answers.
func (e *Extractor) parseLabels(content string) []string {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil
	}

	var labels []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &labels); err != nil {
		return nil
	}

	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		label = strings.ToLower(strings.TrimSpace(label))
		if label == "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
		if len(out) == e.maxConcepts {
			break
		}
	}
	return out
}
