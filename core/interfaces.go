package core

import (
	"context"

	"gemini-relay/models"
)

// Generator 上游生成接口
// 任何错误都会被回退链转换为失败的 AttemptRecord
type Generator interface {
	Generate(ctx context.Context, model string, key models.Credential, payload models.Payload) (string, error)
}

// SecretProvider 抽象密钥加解密
// 用于读取配置时自动解密 API Key
type SecretProvider interface {
	Decrypt(ciphertext string) (string, error)
	Encrypt(plaintext string) (string, error)
}
