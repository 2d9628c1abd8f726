package splitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pbaille/hwsync/internal/calendar"
	"github.com/pbaille/hwsync/internal/domain"
)

const (
	anthropicAPI = "https://api.anthropic.com/v1/messages"
	// DefaultModel is used when no model is configured
	DefaultModel = "claude-haiku-4-5-20251001"
)

// Anthropic splits announcements via the Anthropic Messages API
type Anthropic struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewAnthropic creates an Anthropic splitter
func NewAnthropic(apiKey, model string) (*Anthropic, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("anthropic api key not set")
	}
	if model == "" {
		model = DefaultModel
	}
	return &Anthropic{
		apiKey:   apiKey,
		model:    model,
		endpoint: anthropicAPI,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// WithEndpoint points the splitter at another messages endpoint
func (c *Anthropic) WithEndpoint(endpoint string) *Anthropic {
	c.endpoint = endpoint
	return c
}

// Split asks the model to separate the announcement into typed items
func (c *Anthropic) Split(ctx context.Context, a domain.Announcement) ([]Item, error) {
	prompt := buildPrompt(a)

	resp, err := c.callAPI(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}

	return parseResponse(resp)
}

func buildPrompt(a domain.Announcement) string {
	var sb strings.Builder

	sb.WriteString("Split this homework announcement into separate assignments. Return JSON only.\n\n")
	sb.WriteString("Subject: ")
	sb.WriteString(a.Subject)
	sb.WriteString("\nAssigned: ")
	sb.WriteString(a.AssignedDate.Format("Monday, " + calendar.Layout))
	sb.WriteString("\nAnnouncement:\n")
	sb.WriteString(a.Text)
	sb.WriteString("\n\n")

	sb.WriteString(`Return a JSON array with this structure:
[
  {"text": "Quiz on chapter 4 Thursday", "type": "quiz"}
]

Rules:
- "type" is one of: homework, quiz, test, reading, project
- Keep each item's wording close to the original, including any due-date words (tomorrow, due Friday, due 12/11)
- A due-date hint that applies to the whole line must be repeated in every item it applies to
- If the announcement is a single assignment, return a one-element array
- Never invent assignments that are not in the text

Return ONLY the JSON, no other text.`)

	return sb.String()
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Anthropic) callAPI(ctx context.Context, prompt string) (string, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: 1024,
		Messages: []apiMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("api error: %s", apiResp.Error.Message)
	}

	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return apiResp.Content[0].Text, nil
}

func parseResponse(resp string) ([]Item, error) {
	// Clean up response - remove markdown code blocks if present
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var raw []Item
	if err := json.Unmarshal([]byte(resp), &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w (response: %s)", err, resp)
	}

	items := make([]Item, 0, len(raw))
	for _, it := range raw {
		it.Text = strings.TrimSpace(it.Text)
		if it.Text == "" {
			continue
		}
		it.ItemType = normalizeType(it.ItemType)
		items = append(items, it)
	}
	return items, nil
}

func normalizeType(t domain.ItemType) domain.ItemType {
	switch domain.ItemType(strings.ToLower(strings.TrimSpace(string(t)))) {
	case domain.ItemHomework:
		return domain.ItemHomework
	case domain.ItemQuiz:
		return domain.ItemQuiz
	case domain.ItemTest, "exam":
		return domain.ItemTest
	case domain.ItemReading:
		return domain.ItemReading
	case domain.ItemProject:
		return domain.ItemProject
	}
	return domain.ItemUnset
}
