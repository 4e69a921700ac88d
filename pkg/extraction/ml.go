package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MLConfig configures the reference HTTP-backed ML extractor. Any service
// that accepts a prompt and returns completion text can serve; the parser
// tolerates fenced and partially-malformed JSON.
type MLConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// HTTPExtractor is the reference pluggable ML extractor: it
// sends the text to a remote NER/completion endpoint and parses the JSON
// entity list out of the response.
type HTTPExtractor struct {
	cfg    MLConfig
	client *http.Client

	knownEntities []string
}

func NewHTTPExtractor(cfg MLConfig) *HTTPExtractor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExtractor{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

// PrimeKnownEntities sets the names the prompt lists so repeat mentions are
// labeled consistently across memories.
func (e *HTTPExtractor) PrimeKnownEntities(names []string) {
	e.knownEntities = names
}

func (e *HTTPExtractor) Name() string  { return "ml_http" }
func (e *HTTPExtractor) Priority() int { return 50 }

// SupportedTypes is open-ended: the model may emit any well-known or
// custom:<tag> type.
func (e *HTTPExtractor) SupportedTypes() []string { return nil }

type completionRequest struct {
	Model  string `json:"model,omitempty"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Content string `json:"content"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, text string) ([]ExtractedEntity, error) {
	if e.cfg.Endpoint == "" {
		return nil, fmt.Errorf("extraction: ml extractor endpoint not configured")
	}
	if text == "" {
		return nil, nil
	}

	body, err := json.Marshal(completionRequest{
		Model:  e.cfg.Model,
		System: SystemPrompt,
		Prompt: BuildUserPrompt(text, e.knownEntities),
	})
	if err != nil {
		return nil, fmt.Errorf("extraction: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extraction: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction: model call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("extraction: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction: model returned status %d", resp.StatusCode)
	}

	var cr completionResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		// Some services return the completion text directly.
		cr.Content = string(raw)
	}

	entities, err := ParseResponse(cr.Content)
	if err != nil {
		return nil, fmt.Errorf("extraction: parse failed: %w", err)
	}
	for i := range entities {
		entities[i].ExtractorSource = e.Name()
	}
	return entities, nil
}
