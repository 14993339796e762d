package core

import (
	"strings"
	"sync/atomic"

	"gemini-relay/models"
)

// KeyRotator API Key 轮询器 (线程安全)
// 每次 Next() 只做一次原子自增，并发调用不会拿到同一位置，也不会跳过位置
type KeyRotator struct {
	keys    []models.Credential
	counter atomic.Uint64
}

// NewKeyRotator 按配置顺序创建轮询器，空白项会被忽略
func NewKeyRotator(keys []string) *KeyRotator {
	r := &KeyRotator{keys: make([]models.Credential, 0, len(keys))}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			r.keys = append(r.keys, models.Credential(k))
		}
	}
	return r
}

// Next 返回当前位置的 Key 并前进一位，到末尾后回到 0
func (r *KeyRotator) Next() (models.Credential, error) {
	if len(r.keys) == 0 {
		return "", &ConfigurationError{Err: ErrNoCredentials}
	}
	// counter 从 1 开始，所以使用 (count - 1)
	count := r.counter.Add(1)
	return r.keys[(count-1)%uint64(len(r.keys))], nil
}

func (r *KeyRotator) Len() int { return len(r.keys) }

// Prefixes 返回所有 Key 的脱敏前缀
func (r *KeyRotator) Prefixes() []string {
	out := make([]string, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, k.Prefix())
	}
	return out
}

// Redact 把文本中出现的完整 Key 替换为前缀
func (r *KeyRotator) Redact(text string) string {
	for _, k := range r.keys {
		if strings.Contains(text, string(k)) {
			text = strings.ReplaceAll(text, string(k), k.Prefix())
		}
	}
	return text
}
