package core

import (
	"context"
	"errors"

	"gemini-relay/models"

	"github.com/sirupsen/logrus"
)

const (
	upstreamErrorPrefix = "Internal API Error: "
	configErrorPrefix   = "Configuration Error: "
	maxErrorDetailRunes = 50
)

// ChatResult 单次聊天请求的处理结果
// Reply 与 Error 只会有一个非空
type ChatResult struct {
	Reply     string
	Error     string
	Model     string
	KeyPrefix string
	Attempts  []models.AttemptRecord
	Err       error
}

func (r ChatResult) OK() bool { return r.Err == nil }

// Response 转换为对外的响应体
func (r ChatResult) Response() models.ChatResponse {
	if r.OK() {
		return models.ChatResponse{Reply: r.Reply}
	}
	return models.ChatResponse{Error: r.Error}
}

// ChatService 聊天请求处理：取 Key -> 组装上下文 -> 执行回退链 -> 映射结果
type ChatService struct {
	rotator   *KeyRotator
	assembler *ContextAssembler
	chain     *FallbackChain
	logger    *logrus.Logger
}

func NewChatService(rotator *KeyRotator, assembler *ContextAssembler, chain *FallbackChain, logger *logrus.Logger) *ChatService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ChatService{
		rotator:   rotator,
		assembler: assembler,
		chain:     chain,
		logger:    logger,
	}
}

func (s *ChatService) Handle(ctx context.Context, req models.ChatTurnRequest) ChatResult {
	key, err := s.rotator.Next()
	if err != nil {
		s.logger.WithError(err).Error("Cannot serve chat request")
		return ChatResult{Error: configErrorPrefix + errorCause(err).Error(), Err: err}
	}
	observeCredential(key)

	payload := s.assembler.Build(req)
	s.logger.WithFields(logrus.Fields{
		"key":     key.Prefix(),
		"parts":   len(payload),
		"history": len(req.History),
		"file":    req.Attachment != nil,
	}).Debug("Payload assembled")

	outcome := s.chain.Execute(ctx, payload, key)
	result := ChatResult{
		Model:     outcome.Model,
		KeyPrefix: key.Prefix(),
		Attempts:  outcome.Attempts,
	}

	if outcome.OK() {
		result.Reply = outcome.Reply
		return result
	}

	result.Err = outcome.Err
	var cfgErr *ConfigurationError
	if errors.As(outcome.Err, &cfgErr) {
		result.Error = configErrorPrefix + errorCause(cfgErr).Error()
	} else {
		result.Error = upstreamErrorPrefix + truncate(s.rotator.Redact(errorCause(outcome.Err).Error()), maxErrorDetailRunes)
	}

	s.logger.WithFields(logrus.Fields{
		"key":      key.Prefix(),
		"model":    outcome.Model,
		"attempts": len(outcome.Attempts),
		"error":    s.rotator.Redact(outcome.Err.Error()),
	}).Error("All candidate models failed")
	return result
}

// errorCause 去掉本包的包装层，返回最初的原因
func errorCause(err error) error {
	for {
		switch e := err.(type) {
		case *ExhaustedError:
			if e.Err == nil {
				return err
			}
			err = e.Err
		case *CandidateError:
			err = e.Err
		case *ConfigurationError:
			err = e.Err
		default:
			return err
		}
	}
}

// truncate 按 rune 截断，不会切坏多字节字符
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
