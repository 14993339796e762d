package core

import (
	"context"
	"strings"
	"time"

	"gemini-relay/models"

	"github.com/sirupsen/logrus"
)

// FallbackChain 故障转移链
// 按优先级依次尝试候选模型，第一个成功即返回；全部失败时只保留最后一个错误
// 同一请求内不切换 Key，也不在候选之间等待
type FallbackChain struct {
	candidates []string
	generator  Generator
	timeout    time.Duration // 单次调用超时，<= 0 表示只受请求 Context 约束
	logger     *logrus.Logger
}

func NewFallbackChain(candidates []string, generator Generator, timeout time.Duration, logger *logrus.Logger) *FallbackChain {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FallbackChain{
		candidates: append([]string(nil), candidates...),
		generator:  generator,
		timeout:    timeout,
		logger:     logger,
	}
}

// Candidates 返回候选模型列表的副本
func (fc *FallbackChain) Candidates() []string {
	return append([]string(nil), fc.candidates...)
}

// Execute 执行回退链
func (fc *FallbackChain) Execute(ctx context.Context, payload models.Payload, key models.Credential) models.UpstreamOutcome {
	outcome := models.UpstreamOutcome{Attempts: make([]models.AttemptRecord, 0, len(fc.candidates))}
	if len(fc.candidates) == 0 {
		outcome.Err = &ExhaustedError{Err: &ConfigurationError{Err: ErrNoCandidates}}
		return outcome
	}

	var last models.AttemptRecord
	for _, model := range fc.candidates {
		// 客户端已断开，后续候选没有意义
		if err := ctx.Err(); err != nil {
			if last.Model == "" {
				last.Model = model
			}
			last.Err = err
			break
		}

		fc.logger.WithFields(logrus.Fields{"model": model, "key": key.Prefix()}).Debug("Trying model")
		rec, reply := fc.attempt(ctx, model, key, payload)
		outcome.Attempts = append(outcome.Attempts, rec)
		observeAttempt(rec)

		if rec.OK() {
			outcome.Reply = reply
			outcome.Model = model
			return outcome
		}

		fc.logger.WithFields(logrus.Fields{
			"model":      model,
			"key":        key.Prefix(),
			"latency_ms": rec.Duration.Milliseconds(),
			"error":      truncate(rec.Err.Error(), 100),
		}).Warn("Model failed, trying next candidate")
		last = rec
	}

	upstreamExhaustedTotal.Inc()
	outcome.Model = last.Model
	outcome.Err = &ExhaustedError{Model: last.Model, Attempts: len(outcome.Attempts), Err: last.Err}
	return outcome
}

// attempt 对单个候选模型调用一次上游
func (fc *FallbackChain) attempt(ctx context.Context, model string, key models.Credential, payload models.Payload) (models.AttemptRecord, string) {
	callCtx := ctx
	if fc.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, fc.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := fc.generator.Generate(callCtx, model, key, payload)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyReply
	}

	rec := models.AttemptRecord{Model: model, Duration: time.Since(start)}
	if err != nil {
		rec.Err = &CandidateError{Model: model, Err: err}
	}
	return rec, reply
}
