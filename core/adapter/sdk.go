package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gemini-relay/models"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// SDKGenerator 通过 generative-ai-go SDK 调用 Gemini
// 每个 Key 缓存一个 genai.Client
type SDKGenerator struct {
	mu      sync.Mutex
	clients map[models.Credential]*genai.Client
}

func NewSDKGenerator() *SDKGenerator {
	return &SDKGenerator{clients: make(map[models.Credential]*genai.Client)}
}

func (g *SDKGenerator) client(key models.Credential) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[key]; ok {
		return c, nil
	}
	// client 生命周期长于单个请求，不能用请求的 ctx
	c, err := genai.NewClient(context.Background(), option.WithAPIKey(key.Value()))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client for key %s: %w", key.Prefix(), err)
	}
	g.clients[key] = c
	return c, nil
}

func (g *SDKGenerator) Generate(ctx context.Context, model string, key models.Credential, payload models.Payload) (string, error) {
	c, err := g.client(key)
	if err != nil {
		return "", err
	}

	gm := c.GenerativeModel(strings.TrimPrefix(model, "models/"))
	resp, err := gm.GenerateContent(ctx, toGenaiParts(payload)...)
	if err != nil {
		return "", err
	}
	return extractText(resp), nil
}

// toGenaiParts 文本 -> genai.Text，附件 -> genai.Blob，顺序不变
func toGenaiParts(payload models.Payload) []genai.Part {
	parts := make([]genai.Part, 0, len(payload))
	for _, p := range payload {
		if p.IsBlob() {
			parts = append(parts, genai.Blob{MIMEType: p.Blob.MimeType, Data: p.Blob.Data})
			continue
		}
		parts = append(parts, genai.Text(p.Text))
	}
	return parts
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	var text strings.Builder
	if cand := resp.Candidates[0]; cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	return text.String()
}

// Close 关闭所有缓存的 client
func (g *SDKGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for key, c := range g.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(g.clients, key)
	}
	return errors.Join(errs...)
}
