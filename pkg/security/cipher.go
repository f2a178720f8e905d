package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "enc:"

// TokenCipher 加密存储第三方令牌；未配置密钥时原样存取
type TokenCipher struct {
	key []byte
}

// NewTokenCipher 密钥经 SHA-256 派生为 32 字节
func NewTokenCipher(secret string) *TokenCipher {
	if secret == "" {
		return &TokenCipher{}
	}
	sum := sha256.Sum256([]byte(secret))
	return &TokenCipher{key: sum[:]}
}

func (t *TokenCipher) Enabled() bool {
	return t != nil && len(t.key) == chacha20poly1305.KeySize
}

func (t *TokenCipher) Seal(plain string) (string, error) {
	if !t.Enabled() || plain == "" {
		return plain, nil
	}
	aead, err := chacha20poly1305.NewX(t.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open 没有前缀的值视为历史明文
func (t *TokenCipher) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if !t.Enabled() {
		return "", errors.New("token is encrypted but no key is configured")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed token: %w", err)
	}
	aead, err := chacha20poly1305.NewX(t.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("sealed token too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed token: %w", err)
	}
	return string(plain), nil
}
