package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gemini-relay/models"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// 上游响应体上限
	maxResponseBytes = 8 << 20
)

var ErrNoCandidates = errors.New("response contains no candidates")

// GeminiAdapter 基于 REST 的 Gemini generateContent 调用
type GeminiAdapter struct {
	client  *http.Client
	baseURL string
}

func NewGeminiAdapter(client *http.Client, baseURL string) *GeminiAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &GeminiAdapter{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (a *GeminiAdapter) Generate(ctx context.Context, model string, key models.Credential, payload models.Payload) (string, error) {
	req, err := a.ConvertRequest(ctx, model, key, payload)
	if err != nil {
		return "", err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	return a.HandleResponse(resp)
}

// ConvertRequest 把 payload 转成一条 user content
// Key 放在 x-goog-api-key 请求头里，URL 中不带 Key
func (a *GeminiAdapter) ConvertRequest(ctx context.Context, model string, key models.Credential, payload models.Payload) (*http.Request, error) {
	content := GeminiContent{Role: "user", Parts: make([]GeminiPart, 0, len(payload))}
	for _, p := range payload {
		if p.IsBlob() {
			content.Parts = append(content.Parts, GeminiPart{
				InlineData: &GeminiInlineData{
					MimeType: p.Blob.MimeType,
					Data:     base64.StdEncoding.EncodeToString(p.Blob.Data),
				},
			})
			continue
		}
		content.Parts = append(content.Parts, GeminiPart{Text: p.Text})
	}

	body, err := json.Marshal(GeminiRequest{Contents: []GeminiContent{content}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	model = strings.TrimPrefix(model, "models/")
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key.Value())
	return req, nil
}

// HandleResponse 解析响应，返回第一个候选的文本
func (a *GeminiAdapter) HandleResponse(resp *http.Response) (string, error) {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		upErr := &UpstreamError{StatusCode: resp.StatusCode}
		var envelope GeminiErrorEnvelope
		if json.Unmarshal(bodyBytes, &envelope) == nil && envelope.Error.Message != "" {
			upErr.Status = envelope.Error.Status
			upErr.Message = envelope.Error.Message
		} else {
			upErr.Message = strings.TrimSpace(string(bodyBytes))
		}
		return "", upErr
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(bodyBytes, &geminiResp); err != nil {
		return "", fmt.Errorf("failed to decode gemini response: %w", err)
	}

	if len(geminiResp.Candidates) == 0 {
		if fb := geminiResp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", fb.BlockReason)
		}
		return "", ErrNoCandidates
	}

	var text strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

func (a *GeminiAdapter) Close() error { return nil }
