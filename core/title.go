package core

import (
	"context"
	"strings"
	"time"

	"gemini-relay/models"

	"github.com/sirupsen/logrus"
)

// DefaultTitle 任何失败情况下返回的标题
const DefaultTitle = "チャット履歴"

const (
	maxTitleRunes   = 30
	titlePromptTmpl = "次の会話の最初のメッセージに、15文字以内の短いタイトルを付けてください。タイトルだけを出力してください。\n\nメッセージ: "
)

// TitleResult 标题生成结果，Err 仅用于日志与统计
type TitleResult struct {
	Title     string
	Model     string
	KeyPrefix string
	Err       error
	Duration  time.Duration
}

// TitleSummarizer 为聊天生成简短标题
// 只调用一次上游，不走回退链；任何错误都折叠为默认标题
type TitleSummarizer struct {
	rotator      *KeyRotator
	generator    Generator
	model        string
	defaultTitle string
	timeout      time.Duration
	logger       *logrus.Logger
}

func NewTitleSummarizer(rotator *KeyRotator, generator Generator, model, defaultTitle string, timeout time.Duration, logger *logrus.Logger) *TitleSummarizer {
	if defaultTitle == "" {
		defaultTitle = DefaultTitle
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TitleSummarizer{
		rotator:      rotator,
		generator:    generator,
		model:        model,
		defaultTitle: defaultTitle,
		timeout:      timeout,
		logger:       logger,
	}
}

// Summarize 总是返回一个非空标题
func (t *TitleSummarizer) Summarize(ctx context.Context, message string) string {
	return t.Run(ctx, message).Title
}

// Run 与 Summarize 相同，但附带模型、Key 前缀和错误信息
func (t *TitleSummarizer) Run(ctx context.Context, message string) TitleResult {
	start := time.Now()
	res := TitleResult{Model: t.model}

	var title string
	title, res.KeyPrefix, res.Err = t.generate(ctx, message)
	res.Duration = time.Since(start)

	if res.Err != nil {
		titleFallbackTotal.Inc()
		t.logger.WithFields(logrus.Fields{
			"model": t.model,
			"key":   res.KeyPrefix,
			"error": t.rotator.Redact(res.Err.Error()),
		}).Warn("Title generation failed, using default title")
		res.Title = t.defaultTitle
		return res
	}

	res.Title = title
	return res
}

func (t *TitleSummarizer) generate(ctx context.Context, message string) (string, string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", "", ErrEmptyMessage
	}
	if t.model == "" {
		return "", "", &ConfigurationError{Err: ErrNoCandidates}
	}

	key, err := t.rotator.Next()
	if err != nil {
		return "", "", err
	}
	observeCredential(key)

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	payload := models.Payload{models.TextPart(titlePromptTmpl + message)}
	reply, err := t.generator.Generate(ctx, t.model, key, payload)
	if err != nil {
		return "", key.Prefix(), &CandidateError{Model: t.model, Err: err}
	}

	title := cleanTitle(reply)
	if title == "" {
		return "", key.Prefix(), ErrEmptyTitle
	}
	return title, key.Prefix(), nil
}

var titleLabels = []string{"タイトル:", "タイトル：", "Title:", "title:"}

// cleanTitle 取第一行非空文本，去掉引号、markdown 标记和标签
func cleanTitle(raw string) string {
	var line string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}

	line = strings.TrimLeft(line, "#*->` ")
	for _, label := range titleLabels {
		line = strings.TrimPrefix(line, label)
	}
	line = strings.TrimSpace(line)
	line = strings.Trim(line, "*_`\"'「」『』“”")
	line = strings.TrimSpace(line)

	return truncate(line, maxTitleRunes)
}
