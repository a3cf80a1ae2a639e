package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidSignature 表示 cookie 值被篡改或格式错误。
var ErrInvalidSignature = errors.New("invalid session signature")

const signerSalt = "gh-oauth"

// Signer 以 "{id}.{base64url(hmac)}" 形式签名会话 ID。
type Signer struct {
	secret []byte
}

// NewSigner 使用给定密钥创建签名器。
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign 返回带签名的 cookie 值。
func (s *Signer) Sign(id string) string {
	return id + "." + base64.RawURLEncoding.EncodeToString(s.mac(id))
}

// Verify 校验签名并返回原始会话 ID。
func (s *Signer) Verify(value string) (string, error) {
	idx := strings.LastIndexByte(value, '.')
	if idx <= 0 || idx == len(value)-1 {
		return "", ErrInvalidSignature
	}
	id := value[:idx]
	actual, err := base64.RawURLEncoding.DecodeString(value[idx+1:])
	if err != nil {
		return "", ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare(s.mac(id), actual) != 1 {
		return "", ErrInvalidSignature
	}
	return id, nil
}

func (s *Signer) mac(id string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signerSalt))
	mac.Write([]byte("."))
	mac.Write([]byte(id))
	return mac.Sum(nil)
}
