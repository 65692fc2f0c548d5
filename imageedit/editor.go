// Package imageedit wraps the image-editing model behind a narrow interface
// so the relay can be tested against fakes.
package imageedit

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// Result is the edited image.
type Result struct {
	ImageBase64 string
	MimeType    string
}

// Editor applies a spoken instruction to an image.
type Editor interface {
	Edit(ctx context.Context, imageBase64, mimeType, instruction string) (*Result, error)
}

// GeminiEditor edits photos through the Gemini image-generation API.
type GeminiEditor struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiEditor creates the production editor.
func NewGeminiEditor(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiEditor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiEditor{client: client, model: model, timeout: timeout}, nil
}

// Edit sends the image plus instruction to the model and returns the first
// image part of the response.
func (e *GeminiEditor) Edit(ctx context.Context, imageBase64, mimeType, instruction string) (*Result, error) {
	raw, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	if instruction == "" {
		return nil, fmt.Errorf("edit instruction is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: raw}},
			{Text: instruction},
		},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("image edit request failed: %w", err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &Result{
					ImageBase64: base64.StdEncoding.EncodeToString(part.InlineData.Data),
					MimeType:    part.InlineData.MIMEType,
				}, nil
			}
		}
	}
	return nil, fmt.Errorf("model returned no image for instruction %q", instruction)
}
