package core

import (
	"context"
	"io"
	"sync"

	"gemini-relay/models"

	"github.com/sirupsen/logrus"
)

type generateCall struct {
	model   string
	key     models.Credential
	payload models.Payload
}

// fakeGenerator 记录每次调用，按 respond 返回结果
type fakeGenerator struct {
	mu      sync.Mutex
	calls   []generateCall
	respond func(ctx context.Context, model string, key models.Credential) (string, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, model string, key models.Credential, payload models.Payload) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, generateCall{model: model, key: key, payload: payload})
	f.mu.Unlock()
	return f.respond(ctx, model, key)
}

func (f *fakeGenerator) models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.model)
	}
	return out
}

func (f *fakeGenerator) keys() []models.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Credential, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.key)
	}
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
