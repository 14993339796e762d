package core

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// EncryptedPrefix 配置中加密 Key 的前缀，例如 "enc:BASE64..."
const EncryptedPrefix = "enc:"

// NoOpSecretProvider 明文透传，未配置 RELAY_SECRET_KEY 时使用
type NoOpSecretProvider struct{}

func NewNoOpSecretProvider() *NoOpSecretProvider {
	return &NoOpSecretProvider{}
}

func (s *NoOpSecretProvider) Decrypt(ciphertext string) (string, error) {
	return ciphertext, nil
}

func (s *NoOpSecretProvider) Encrypt(plaintext string) (string, error) {
	return plaintext, nil
}

// ResolveCredentials 解密带 "enc:" 前缀的 Key，明文 Key 原样保留
// 无法解密的条目会被丢弃并记录错误（只记录序号，不记录内容）
func ResolveCredentials(raw []string, sp SecretProvider, logger *logrus.Logger) []string {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if sp == nil {
		sp = NewNoOpSecretProvider()
	}

	keys := make([]string, 0, len(raw))
	for i, k := range raw {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if !strings.HasPrefix(k, EncryptedPrefix) {
			keys = append(keys, k)
			continue
		}

		if _, noop := sp.(*NoOpSecretProvider); noop {
			logger.WithField("index", i).Error("Encrypted API key found but RELAY_SECRET_KEY is not set, skipping")
			continue
		}
		plain, err := sp.Decrypt(strings.TrimPrefix(k, EncryptedPrefix))
		if err != nil || strings.TrimSpace(plain) == "" {
			logger.WithField("index", i).WithError(err).Error("Failed to decrypt API key, skipping")
			continue
		}
		keys = append(keys, strings.TrimSpace(plain))
	}
	return keys
}
