package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gemini-relay/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = models.Credential("AIzaSyTESTKEY0123456789")

func TestGeminiAdapter_Generate(t *testing.T) {
	var got GeminiRequest
	var path, keyHeader, rawQuery string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		rawQuery = r.URL.RawQuery
		keyHeader = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"thinking","thought":true},{"text":"こんにちは"},{"text":"！"}]},"finishReason":"STOP"}]}`)
	}))
	defer ts.Close()

	a := NewGeminiAdapter(ts.Client(), ts.URL+"/")
	payload := models.Payload{
		models.TextPart("instruction"),
		models.TextPart("user: hi"),
		models.BlobPart("image/png", []byte{0x89, 'P', 'N', 'G'}),
	}

	reply, err := a.Generate(context.Background(), "models/gemini-1.5-flash", testKey, payload)
	require.NoError(t, err)
	assert.Equal(t, "こんにちは！", reply)

	assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", path)
	assert.Equal(t, testKey.Value(), keyHeader)
	assert.Empty(t, rawQuery, "key must not be in the URL")

	require.Len(t, got.Contents, 1)
	parts := got.Contents[0].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "instruction", parts[0].Text)
	assert.Equal(t, "user: hi", parts[1].Text)
	require.NotNil(t, parts[2].InlineData)
	assert.Equal(t, "image/png", parts[2].InlineData.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'}), parts[2].InlineData.Data)
}

func TestGeminiAdapter_UpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer ts.Close()

	a := NewGeminiAdapter(ts.Client(), ts.URL)
	_, err := a.Generate(context.Background(), "gemini-2.0-flash", testKey, models.Payload{models.TextPart("x")})
	require.Error(t, err)

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusTooManyRequests, upErr.StatusCode)
	assert.Equal(t, "RESOURCE_EXHAUSTED", upErr.Status)
	assert.Contains(t, err.Error(), "Resource has been exhausted")
}

func TestGeminiAdapter_PlainErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	a := NewGeminiAdapter(ts.Client(), ts.URL)
	_, err := a.Generate(context.Background(), "m", testKey, models.Payload{models.TextPart("x")})
	assert.EqualError(t, err, "502: bad gateway")
}

func TestGeminiAdapter_NoCandidates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "blocked") {
			fmt.Fprint(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
			return
		}
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer ts.Close()

	a := NewGeminiAdapter(ts.Client(), ts.URL)

	_, err := a.Generate(context.Background(), "empty", testKey, models.Payload{models.TextPart("x")})
	assert.ErrorIs(t, err, ErrNoCandidates)

	_, err = a.Generate(context.Background(), "blocked", testKey, models.Payload{models.TextPart("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestGeminiAdapter_TransportErrorHasNoKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	a := NewGeminiAdapter(http.DefaultClient, url)
	_, err := a.Generate(context.Background(), "gemini-1.5-flash", testKey, models.Payload{models.TextPart("x")})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testKey.Value())
}

func TestNew(t *testing.T) {
	g, err := New("", "", nil)
	require.NoError(t, err)
	assert.IsType(t, &GeminiAdapter{}, g)

	g, err = New(DriverSDK, "", nil)
	require.NoError(t, err)
	assert.IsType(t, &SDKGenerator{}, g)
	assert.NoError(t, g.Close())

	_, err = New("grpc", "", nil)
	assert.Error(t, err)
}
