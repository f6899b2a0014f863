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

const sealedPrefix = "enc:v1:"

// ErrCorruptSecret 密文无法解密
var ErrCorruptSecret = errors.New("corrupt sealed secret")

// Sealer 加密存储提供方账户密码
//
// 未配置密钥时原样存储；读取时不带前缀的值视为明文，便于从明文数据迁移。
type Sealer struct {
	key []byte
}

// NewSealer 根据口令派生 XChaCha20-Poly1305 密钥，口令为空时不加密
func NewSealer(passphrase string) *Sealer {
	if passphrase == "" {
		return &Sealer{}
	}
	sum := sha256.Sum256([]byte(passphrase))
	return &Sealer{key: sum[:]}
}

// Enabled 是否启用加密
func (s *Sealer) Enabled() bool {
	return s != nil && len(s.key) > 0
}

// Seal 加密明文
func (s *Sealer) Seal(plain string) (string, error) {
	if !s.Enabled() {
		return plain, nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open 解密密文
func (s *Sealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if !s.Enabled() {
		return "", fmt.Errorf("sealed secret without key: %w", ErrCorruptSecret)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", ErrCorruptSecret
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrCorruptSecret
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", ErrCorruptSecret
	}
	return string(plain), nil
}

// SealPtr 加密可空字段
func (s *Sealer) SealPtr(plain *string) (*string, error) {
	if plain == nil {
		return nil, nil
	}
	sealed, err := s.Seal(*plain)
	if err != nil {
		return nil, err
	}
	return &sealed, nil
}

// OpenPtr 解密可空字段
func (s *Sealer) OpenPtr(value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	plain, err := s.Open(*value)
	if err != nil {
		return nil, err
	}
	return &plain, nil
}
