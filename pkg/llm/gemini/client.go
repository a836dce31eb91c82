package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"confeed/pkg/llm"
)

// APIVersion is the Generative Language API version the client speaks.
const APIVersion = "v1beta"

// Client implements llm.Provider on the Gemini API through the genai SDK.
type Client struct {
	config *llm.Config
	models *genai.Models
	err    error
}

// New creates a Gemini client. An empty BaseURL uses the SDK default
// endpoint. Construction errors surface from Complete.
func New(config *llm.Config) *Client {
	cc := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: config.HTTPTimeout()},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    config.BaseURL,
			APIVersion: APIVersion,
		},
	}

	c := &Client{config: config}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		c.err = fmt.Errorf("creating gemini client: %w", err)
		return c
	}
	c.models = client.Models
	return c
}

// buildRequest folds system messages into the system instruction and maps the
// assistant role to "model".
func (c *Client) buildRequest(messages []llm.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	var system []string
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  string(genai.RoleModel),
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  string(genai.RoleUser),
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}},
		}
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		cfg.Temperature = &temp
	}
	if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	return contents, cfg
}

// Complete calls generateContent and returns the joined text parts of the
// first candidate.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	if c.err != nil {
		return nil, c.err
	}

	contents, cfg := c.buildRequest(messages)
	resp, err := c.models.GenerateContent(ctx, c.config.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, llm.ErrNoContent
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, llm.ErrNoContent
	}

	out := &llm.Response{Content: sb.String()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}

var _ llm.Provider = (*Client)(nil)
