package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"gemini-relay/config"
	"gemini-relay/core"
	"gemini-relay/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type upstreamCall struct {
	model   string
	key     models.Credential
	payload models.Payload
}

type fakeUpstream struct {
	mu      sync.Mutex
	calls   []upstreamCall
	respond func(model string, key models.Credential) (string, error)
}

func (f *fakeUpstream) Generate(_ context.Context, model string, key models.Credential, payload models.Payload) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, upstreamCall{model: model, key: key, payload: payload})
	f.mu.Unlock()
	return f.respond(model, key)
}

func (f *fakeUpstream) lastPayload() models.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1].payload
}

func testConfig(keys ...string) config.Config {
	cfg := config.Default()
	cfg.APIKeys = keys
	cfg.TitleModel = cfg.Models[0]
	cfg.Server.MaxUploadMB = 1
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config, up core.Generator) *gin.Engine {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return newEngine(newApp(cfg, up, nil, log), nil)
}

func postForm(engine *gin.Engine, path string, fields map[string]string) *httptest.ResponseRecorder {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeChat(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestChat_Reply(t *testing.T) {
	up := &fakeUpstream{respond: func(string, models.Credential) (string, error) { return "こんにちは", nil }}
	engine := newTestServer(t, testConfig("key-a"), up)

	w := postForm(engine, "/chat", map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"reply": "こんにちは"}, decodeChat(t, w))
	assert.Equal(t, []string{core.DefaultInstruction, "質問: hello"}, up.lastPayload().Texts())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestChat_HistoryOrder(t *testing.T) {
	up := &fakeUpstream{respond: func(string, models.Credential) (string, error) { return "fine", nil }}
	cfg := testConfig("key-a")
	cfg.Prompt.QuestionPrefix = ""
	engine := newTestServer(t, cfg, up)

	w := postForm(engine, "/chat", map[string]string{
		"message": "how are you",
		"history": `[{"role":"user","text":"hi"},{"role":"ai","text":"hello"}]`,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t,
		[]string{core.DefaultInstruction, "user: hi", "assistant: hello", "how are you"},
		up.lastPayload().Texts())
}

func TestChat_CredentialRotation(t *testing.T) {
	var keys []models.Credential
	up := &fakeUpstream{respond: func(_ string, key models.Credential) (string, error) {
		keys = append(keys, key)
		return "ok", nil
	}}
	engine := newTestServer(t, testConfig("key-0", "key-1"), up)

	for i := 0; i < 4; i++ {
		w := postForm(engine, "/chat", map[string]string{"message": fmt.Sprint(i)})
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, []models.Credential{"key-0", "key-1", "key-0", "key-1"}, keys)
}

func TestChat_AllModelsFail(t *testing.T) {
	up := &fakeUpstream{respond: func(model string, _ models.Credential) (string, error) {
		return "", errors.New("429 quota exceeded for " + model)
	}}
	engine := newTestServer(t, testConfig("AIzaSySECRETSECRET"), up)

	w := postForm(engine, "/chat", map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeChat(t, w)
	assert.NotContains(t, body, "reply")
	require.Contains(t, body, "error")
	msg := body["error"].(string)
	assert.True(t, strings.HasPrefix(msg, "Internal API Error: "), msg)
	assert.Contains(t, msg, "gemini-flash-latest")
	assert.NotContains(t, w.Body.String(), "AIzaSySECRETSECRET")
	assert.Len(t, up.calls, 3)
}

func TestChat_NoCredentials(t *testing.T) {
	up := &fakeUpstream{respond: func(string, models.Credential) (string, error) { return "x", nil }}
	engine := newTestServer(t, testConfig(), up)

	w := postForm(engine, "/chat", map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"error": "Configuration Error: no API keys configured"}, decodeChat(t, w))
	assert.Empty(t, up.calls)
}

func TestChat_MultipartFile(t *testing.T) {
	up := &fakeUpstream{respond: func(string, models.Credential) (string, error) { return "an image", nil }}
	engine := newTestServer(t, testConfig("key-a"), up)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, _ = fw.Write(png)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	payload := up.lastPayload()
	require.Len(t, payload, 2, "instruction + attachment, no empty question part")
	require.True(t, payload[1].IsBlob())
	assert.Equal(t, "image/png", payload[1].Blob.MimeType)
	assert.Equal(t, png, payload[1].Blob.Data)
}

func TestChat_JSONBody(t *testing.T) {
	up := &fakeUpstream{respond: func(string, models.Credential) (string, error) { return "ok", nil }}
	engine := newTestServer(t, testConfig("key-a"), up)

	raw := `{"message":"what is this","history":[{"role":"user","content":"hi"},{"role":"model","text":"yo"}],
		"attachment":{"mime_type":"text/plain; charset=utf-8","data":"aGVsbG8="}}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	payload := up.lastPayload()
	assert.Equal(t, []string{core.DefaultInstruction, "user: hi", "assistant: yo", "質問: what is this"}, payload.Texts())
	require.True(t, payload[4].IsBlob())
	assert.Equal(t, "text/plain", payload[4].Blob.MimeType)
	assert.Equal(t, []byte("hello"), payload[4].Blob.Data)
}

func TestChat_BadInput(t *testing.T) {
	up := &fakeUpstream{respond: func(string, models.Credential) (string, error) { return "ok", nil }}
	engine := newTestServer(t, testConfig("key-a"), up)

	w := postForm(engine, "/chat", map[string]string{"message": "m", "history": "not json"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeChat(t, w)["error"], "invalid history")

	w = postForm(engine, "/chat", map[string]string{"message": "m", "history": `[{"role":"system","text":"x"}]`})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"attachment":{"data":"%%%"}}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, up.calls)
}

func TestChat_UploadTooLarge(t *testing.T) {
	up := &fakeUpstream{respond: func(string, models.Credential) (string, error) { return "ok", nil }}
	engine := newTestServer(t, testConfig("key-a"), up)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, _ := mw.CreateFormFile("file", "big.bin")
	_, _ = fw.Write(bytes.Repeat([]byte{0}, 3<<20))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, up.calls)
}

func TestGenerateTitle(t *testing.T) {
	up := &fakeUpstream{respond: func(string, models.Credential) (string, error) { return "天気の質問", nil }}
	engine := newTestServer(t, testConfig("key-a"), up)

	req := httptest.NewRequest(http.MethodPost, "/generate_title", strings.NewReader(`{"message":"明日の天気は？"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"title":"天気の質問"}`, w.Body.String())
}

func TestGenerateTitle_FallsBack(t *testing.T) {
	up := &fakeUpstream{respond: func(string, models.Credential) (string, error) { return "", errors.New("boom") }}
	engine := newTestServer(t, testConfig("key-a"), up)

	for _, body := range []string{`{"message":"hi"}`, `{}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/generate_title", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, body)
		assert.JSONEq(t, `{"title":"チャット履歴"}`, w.Body.String(), body)
	}
}

func TestRootAndHealth(t *testing.T) {
	up := &fakeUpstream{respond: func(string, models.Credential) (string, error) { return "ok", nil }}
	engine := newTestServer(t, testConfig("AIzaSyHEALTHKEY123"), up)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "AIzaSyHEALTHKEY123")

	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Credentials)
	assert.Equal(t, []string{"gemini-1.5-flash", "gemini-2.0-flash", "gemini-flash-latest"}, health.Models)
}

func TestStats_WithoutDatabase(t *testing.T) {
	up := &fakeUpstream{respond: func(string, models.Credential) (string, error) { return "ok", nil }}
	engine := newTestServer(t, testConfig("key-a"), up)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var stats models.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Empty(t, stats.Models)
}

func TestMetricsEndpoint(t *testing.T) {
	up := &fakeUpstream{respond: func(string, models.Credential) (string, error) { return "ok", nil }}
	engine := newTestServer(t, testConfig("key-a"), up)

	postForm(engine, "/chat", map[string]string{"message": "hello"})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gemini_relay_upstream_attempts_total")
	assert.Contains(t, w.Body.String(), "gemini_relay_http_requests_total")
}
