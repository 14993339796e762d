package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// AESSecretProvider 基于 AES-GCM 的 API Key 加解密
// 密文格式: base64(nonce || sealed)
type AESSecretProvider struct {
	key []byte
}

// NewAESSecretProvider 创建 AES Secret Provider
// 16/24/32 字节的口令直接作为密钥，其它长度用 SHA-256 派生为 AES-256 密钥
func NewAESSecretProvider(passphrase string) (*AESSecretProvider, error) {
	if passphrase == "" {
		return nil, errors.New("secret key is empty")
	}
	key := []byte(passphrase)
	switch len(key) {
	case 16, 24, 32:
	default:
		sum := sha256.Sum256(key)
		key = sum[:]
	}
	return &AESSecretProvider{key: key}, nil
}

func (p *AESSecretProvider) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (p *AESSecretProvider) Encrypt(plaintext string) (string, error) {
	gcm, err := p.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (p *AESSecretProvider) Decrypt(ciphertextBase64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := p.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plaintext), nil
}
