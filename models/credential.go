package models

// Credential 上游 API Key
// 只允许通过 Prefix() 出现在日志里，String() 也返回脱敏形式，防止 %v 泄露
type Credential string

const credentialPrefixLen = 8

// Prefix 返回可用于诊断的非敏感前缀
func (c Credential) Prefix() string {
	key := string(c)
	switch {
	case key == "":
		return "***"
	case len(key) <= 4:
		return key[:1] + "***"
	case len(key) <= credentialPrefixLen:
		return key[:2] + "***"
	}
	return key[:credentialPrefixLen] + "..."
}

func (c Credential) String() string { return c.Prefix() }

// Value 返回原始密钥，仅供上游适配器设置请求头
func (c Credential) Value() string { return string(c) }
