// Package llm wraps the language-model scoring service consumed by the
// triage router and by capability-agent narrative generation.
//
// The service is a possibly-slow, possibly-failing remote collaborator:
// calls are rate limited, bounded by the caller's context, and a failure
// degrades only the dispatch that made it, never the whole turn.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mypetparlor/concierge/internal/config"
	"github.com/mypetparlor/concierge/pkg/models"
	"golang.org/x/time/rate"
)

// Scorer classifies text against a fixed domain list, returning a
// confidence per domain in [0,1].
type Scorer interface {
	Score(ctx context.Context, text string, domains []models.Domain) (map[models.Domain]float64, error)
}

// Narrator generates the narrative part of an agent response from a
// domain strategy prompt and the turn's gathered material.
type Narrator interface {
	Narrate(ctx context.Context, system, input string) (string, error)
}

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewClient builds a rate-limited client from configuration.
func NewClient(cfg config.LLMConfig) *Client {
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const scoreInstructions = `You classify a user request against a fixed list of business domains.
Respond with a single JSON object mapping each domain name to a confidence between 0 and 1.
Do not add any other keys or text.`

// Score asks the model for a per-domain confidence mapping.
func (c *Client) Score(ctx context.Context, text string, domains []models.Domain) (map[models.Domain]float64, error) {
	names := make([]string, len(domains))
	for i, d := range domains {
		names[i] = string(d)
	}
	user := fmt.Sprintf("Domains: %s\n\nUser request: %s", strings.Join(names, ", "), text)

	content, err := c.complete(ctx, scoreInstructions, user)
	if err != nil {
		return nil, err
	}

	raw := map[string]float64{}
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return nil, fmt.Errorf("%w: score response not a JSON mapping: %v", models.ErrMalformedResponse, err)
	}

	scores := make(map[models.Domain]float64, len(domains))
	for _, d := range domains {
		scores[d] = clamp01(raw[string(d)])
	}
	return scores, nil
}

// Narrate generates narrative text under a domain strategy prompt.
func (c *Client) Narrate(ctx context.Context, system, input string) (string, error) {
	return c.complete(ctx, system, input)
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrTransientBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: status %d: %s", models.ErrTransientBackend, resp.StatusCode, respBody)
		}
		return "", fmt.Errorf("%w: status %d: %s", models.ErrRejectedBackend, resp.StatusCode, respBody)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", fmt.Errorf("%w: decode chat response: %v", models.ErrMalformedResponse, err)
	}
	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", models.ErrMalformedResponse)
	}
	return chat.Choices[0].Message.Content, nil
}

// extractJSON trims code fences and surrounding prose some models wrap
// around JSON answers.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			return s[i : j+1]
		}
	}
	return s
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
