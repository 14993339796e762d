package core

import (
	"errors"
	"fmt"
)

var (
	ErrNoCredentials = errors.New("no API keys configured")
	ErrNoCandidates  = errors.New("no candidate models configured")
	ErrEmptyReply    = errors.New("upstream returned an empty reply")
	ErrEmptyTitle    = errors.New("title result is empty")
	ErrEmptyMessage  = errors.New("message is empty")
)

// ConfigurationError 配置缺失导致当前请求无法继续（不重试，不退出进程）
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// CandidateError 单个候选模型失败，由回退链吸收
type CandidateError struct {
	Model string
	Err   error
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Model, e.Err)
}

func (e *CandidateError) Unwrap() error { return e.Err }

// ExhaustedError 所有候选模型都失败，只保留最后一个错误
type ExhaustedError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d candidate models failed, last error: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
