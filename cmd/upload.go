package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gemini-relay/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

const (
	// 请求体中除附件以外部分（message、history、multipart 边界）预留的空间
	formOverheadBytes = 1 << 20
	multipartMemory   = 32 << 20
)

var (
	errInvalidHistory    = errors.New("invalid history")
	errInvalidAttachment = errors.New("invalid attachment")
	errUploadTooLarge    = errors.New("attachment too large")
)

// intakeLimits 入站请求的限制
type intakeLimits struct {
	maxUploadBytes  int64
	maxHistoryTurns int // 0 = 不限制
}

// parseChatRequest 解析 /chat 请求
// 支持 multipart/form-data、application/x-www-form-urlencoded 和 application/json
func parseChatRequest(c *gin.Context, limits intakeLimits) (models.ChatTurnRequest, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limits.maxUploadBytes+formOverheadBytes)

	var (
		req models.ChatTurnRequest
		err error
	)
	if c.ContentType() == gin.MIMEJSON {
		req, err = parseChatJSON(c, limits)
	} else {
		req, err = parseChatForm(c, limits)
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return req, errUploadTooLarge
		}
		return req, err
	}

	req.History, err = normalizeHistory(req.History, limits.maxHistoryTurns)
	return req, err
}

func parseChatJSON(c *gin.Context, limits intakeLimits) (models.ChatTurnRequest, error) {
	var body models.ChatJSONRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return models.ChatTurnRequest{}, err
		}
		return models.ChatTurnRequest{}, fmt.Errorf("invalid request body: %w", err)
	}

	req := models.ChatTurnRequest{Message: body.Message, History: body.History}
	if body.Attachment == nil || body.Attachment.Data == "" {
		return req, nil
	}

	data, err := base64.StdEncoding.DecodeString(body.Attachment.Data)
	if err != nil {
		return req, fmt.Errorf("%w: data is not valid base64", errInvalidAttachment)
	}
	if int64(len(data)) > limits.maxUploadBytes {
		return req, errUploadTooLarge
	}
	req.Attachment = newAttachment(data, body.Attachment.MimeType, body.Attachment.Filename)
	return req, nil
}

func parseChatForm(c *gin.Context, limits intakeLimits) (models.ChatTurnRequest, error) {
	var req models.ChatTurnRequest
	// 先显式解析，gin 的 PostForm 会吞掉解析错误（包括超出大小限制）
	var err error
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		err = c.Request.ParseMultipartForm(multipartMemory)
	} else {
		err = c.Request.ParseForm()
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return req, err
		}
		return req, fmt.Errorf("invalid form body: %w", err)
	}
	req.Message = c.PostForm("message")

	if raw := strings.TrimSpace(c.PostForm("history")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.History); err != nil {
			return req, fmt.Errorf("%w: %v", errInvalidHistory, err)
		}
	}

	fh, err := c.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return req, nil
	case err != nil:
		return req, err
	}

	if fh.Size > limits.maxUploadBytes {
		return req, errUploadTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return req, fmt.Errorf("%w: %v", errInvalidAttachment, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limits.maxUploadBytes+1))
	if err != nil {
		return req, fmt.Errorf("%w: %v", errInvalidAttachment, err)
	}
	if int64(len(data)) > limits.maxUploadBytes {
		return req, errUploadTooLarge
	}

	req.Attachment = newAttachment(data, fh.Header.Get("Content-Type"), fh.Filename)
	return req, nil
}

// newAttachment 空文件视为没有附件；未声明类型时按内容探测
func newAttachment(data []byte, declared, filename string) *models.Attachment {
	if len(data) == 0 {
		return nil
	}
	return &models.Attachment{
		Data:     data,
		MimeType: resolveMimeType(data, declared),
		Filename: filename,
	}
}

func resolveMimeType(data []byte, declared string) string {
	declared = strings.TrimSpace(declared)
	if declared == "" || stripMimeParams(declared) == "application/octet-stream" {
		return stripMimeParams(mimetype.Detect(data).String())
	}
	return stripMimeParams(declared)
}

func stripMimeParams(mt string) string {
	base, _, _ := strings.Cut(mt, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// normalizeHistory 统一角色名并按需只保留最近的 maxTurns 轮
func normalizeHistory(history []models.ConversationTurn, maxTurns int) ([]models.ConversationTurn, error) {
	out := make([]models.ConversationTurn, 0, len(history))
	for i, turn := range history {
		role, ok := models.NormalizeRole(turn.Role)
		if !ok {
			return nil, fmt.Errorf("%w: unknown role %q at index %d", errInvalidHistory, turn.Role, i)
		}
		out = append(out, models.ConversationTurn{Role: role, Text: turn.Text})
	}
	if maxTurns > 0 && len(out) > maxTurns {
		out = out[len(out)-maxTurns:]
	}
	return out, nil
}
