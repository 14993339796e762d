package adapter

import (
	"context"
	"fmt"
	"net/http"

	"gemini-relay/models"
)

const (
	DriverREST = "rest"
	DriverSDK  = "sdk"
)

// Generator 上游生成驱动
type Generator interface {
	Generate(ctx context.Context, model string, key models.Credential, payload models.Payload) (string, error)
	Close() error
}

// UpstreamError 上游返回的非 2xx 响应
type UpstreamError struct {
	StatusCode int
	Status     string // 例如 RESOURCE_EXHAUSTED
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// New 按驱动名创建 Generator
func New(driver, baseURL string, client *http.Client) (Generator, error) {
	switch driver {
	case "", DriverREST:
		return NewGeminiAdapter(client, baseURL), nil
	case DriverSDK:
		return NewSDKGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown upstream driver %q", driver)
	}
}
