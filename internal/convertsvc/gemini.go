package convertsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

const handlerPrompt = `You convert serverless function handlers into Express.js route modules.
For every input item return an item with the same "name" whose "content" is a
complete route module exporting an express.Router. If an item cannot be
converted, return it with an "error" string instead of "content".
Answer with JSON of the form {"items":[{"name":"...","content":"...","error":"..."}]}.`

const policyPrompt = `You read SQL migration scripts and turn every row-level security policy
into an Express.js middleware module enforcing the same rule. Name each item
"<table>-<policy>" using lowercase and dashes. Items that cannot be expressed
as middleware carry an "error" string instead of "content".
Answer with JSON of the form {"items":[{"name":"...","content":"...","error":"..."}]}.`

// GeminiService implements the conversion contract on top of the genai client.
type GeminiService struct {
	cli   *genai.Client
	model string
}

// NewGeminiService creates a Gemini-backed service. An empty apiKey lets the
// genai client read GEMINI_API_KEY / GOOGLE_API_KEY from the environment.
func NewGeminiService(ctx context.Context, apiKey, model string) (*GeminiService, error) {
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.5-flash"
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &GeminiService{cli: cli, model: model}, nil
}

func (g *GeminiService) Name() string { return "gemini:" + g.model }

func (g *GeminiService) ConvertHandlers(ctx context.Context, items []Item) ([]ItemResult, error) {
	return g.generate(ctx, handlerPrompt, items)
}

func (g *GeminiService) ExtractPolicies(ctx context.Context, items []Item) ([]ItemResult, error) {
	return g.generate(ctx, policyPrompt, items)
}

func (g *GeminiService) generate(ctx context.Context, prompt string, items []Item) ([]ItemResult, error) {
	in, err := json.MarshalIndent(batchRequest{Items: items}, "", "  ")
	if err != nil {
		return nil, NewPermanentError(err)
	}
	full := prompt + "\n\n[INPUT JSON]\n" + string(in)

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrInvalidResponse
	}
	return decodeBatch(resp.Candidates[0].Content.Parts[0].Text)
}

// decodeBatch accepts either {"items":[...]} or a bare array.
func decodeBatch(txt string) ([]ItemResult, error) {
	txt = strings.TrimSpace(txt)
	var out batchResponse
	if err := json.Unmarshal([]byte(txt), &out); err == nil && out.Items != nil {
		return out.Items, nil
	}
	var bare []ItemResult
	if err := json.Unmarshal([]byte(txt), &bare); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return bare, nil
}
