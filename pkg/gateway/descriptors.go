package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProviderConfig is the static configuration a built-in descriptor closes
// over: credentials, model, and an optional endpoint override.
type ProviderConfig struct {
	APIKey    string
	Model     string
	Endpoint  string
	MaxTokens int
}

const defaultMaxTokens = 1024

// NewAnthropicDescriptor builds the descriptor for Anthropic's messages API.
func NewAnthropicDescriptor(cfg ProviderConfig) Descriptor {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com/v1/messages"
	}
	return Descriptor{
		Name:     "anthropic",
		Endpoint: endpoint,
		BuildRequestBody: func(prompt string, opts CallOptions) ([]byte, error) {
			body := map[string]any{
				"model":      pick(opts.Model, cfg.Model),
				"max_tokens": pickInt(opts.MaxTokens, cfg.MaxTokens, defaultMaxTokens),
				"messages": []map[string]any{
					{"role": "user", "content": prompt},
				},
			}
			if opts.Temperature > 0 {
				body["temperature"] = opts.Temperature
			}
			return json.Marshal(body)
		},
		BuildHeaders: func() map[string]string {
			return map[string]string{
				"x-api-key":         cfg.APIKey,
				"anthropic-version": "2023-06-01",
			}
		},
		ParseResponse: func(raw []byte) (Analysis, error) {
			var resp struct {
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return Analysis{}, fmt.Errorf("decode anthropic envelope: %w", err)
			}
			if len(resp.Content) == 0 {
				return Analysis{}, fmt.Errorf("anthropic response has no content")
			}
			return parseProductText(resp.Content[0].Text), nil
		},
	}
}

// NewOpenAIDescriptor builds the descriptor for OpenAI's chat completions API.
func NewOpenAIDescriptor(cfg ProviderConfig) Descriptor {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	return Descriptor{
		Name:     "openai",
		Endpoint: endpoint,
		BuildRequestBody: func(prompt string, opts CallOptions) ([]byte, error) {
			body := map[string]any{
				"model":      pick(opts.Model, cfg.Model),
				"max_tokens": pickInt(opts.MaxTokens, cfg.MaxTokens, defaultMaxTokens),
				"messages": []map[string]any{
					{"role": "user", "content": prompt},
				},
			}
			if opts.Temperature > 0 {
				body["temperature"] = opts.Temperature
			}
			return json.Marshal(body)
		},
		BuildHeaders: func() map[string]string {
			return map[string]string{
				"Authorization": "Bearer " + cfg.APIKey,
			}
		},
		ParseResponse: func(raw []byte) (Analysis, error) {
			var resp struct {
				Choices []struct {
					Message struct {
						Content string `json:"content"`
					} `json:"message"`
				} `json:"choices"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return Analysis{}, fmt.Errorf("decode openai envelope: %w", err)
			}
			if len(resp.Choices) == 0 {
				return Analysis{}, fmt.Errorf("openai response has no choices")
			}
			return parseProductText(resp.Choices[0].Message.Content), nil
		},
	}
}

// NewGeminiDescriptor builds the descriptor for Google's generateContent API.
// Gemini authenticates by query parameter, so the key is baked into the
// endpoint and no auth header is needed.
func NewGeminiDescriptor(cfg ProviderConfig) Descriptor {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf(
			"https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s",
			cfg.Model, cfg.APIKey)
	}
	return Descriptor{
		Name:     "gemini",
		Endpoint: endpoint,
		BuildRequestBody: func(prompt string, opts CallOptions) ([]byte, error) {
			body := map[string]any{
				"contents": []map[string]any{
					{"parts": []map[string]any{{"text": prompt}}},
				},
				"generationConfig": map[string]any{
					"maxOutputTokens": pickInt(opts.MaxTokens, cfg.MaxTokens, defaultMaxTokens),
				},
			}
			return json.Marshal(body)
		},
		BuildHeaders: func() map[string]string {
			return map[string]string{}
		},
		ParseResponse: func(raw []byte) (Analysis, error) {
			var resp struct {
				Candidates []struct {
					Content struct {
						Parts []struct {
							Text string `json:"text"`
						} `json:"parts"`
					} `json:"content"`
				} `json:"candidates"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return Analysis{}, fmt.Errorf("decode gemini envelope: %w", err)
			}
			if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
				return Analysis{}, fmt.Errorf("gemini response has no candidates")
			}
			return parseProductText(resp.Candidates[0].Content.Parts[0].Text), nil
		},
	}
}

// parseProductText interprets the model's text content. The product contract
// asks for a JSON object with summary/mood/advice keys; anything else is
// passed through leniently with the whole text as the summary.
func parseProductText(text string) Analysis {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var m map[string]any
	if err := json.Unmarshal([]byte(cleaned), &m); err != nil {
		return Analysis{Summary: text}
	}
	return Analysis{
		Summary: asString(m["summary"]),
		Mood:    asString(m["mood"]),
		Advice:  asString(m["advice"]),
		Raw:     m,
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func pickInt(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
