package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"portraitStudio/internal/config"
)

// Claims 是身份服务签发的 ID Token 中网关关心的字段；Subject 即用户 id。
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// Verifier 使用身份服务的 RSA 公钥校验浏览器携带的 Bearer Token。
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

// NewVerifier 解析 PEM 公钥并构造校验器；issuer、audience 为空时不校验。
func NewVerifier(publicKeyPEM []byte, issuer, audience string) (*Verifier, error) {
	if len(publicKeyPEM) == 0 {
		return nil, errors.New("public key pem is required")
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}
	return &Verifier{
		publicKey: publicKey,
		issuer:    strings.TrimSpace(issuer),
		audience:  strings.TrimSpace(audience),
	}, nil
}

// LoadVerifier reads the public key from cfg.PublicKeyPath.
func LoadVerifier(cfg config.AuthConfig) (*Verifier, error) {
	pem, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read auth public key: %w", err)
	}
	return NewVerifier(pem, cfg.Issuer, cfg.Audience)
}

// ValidateToken 解析并验证 JWT，返回其声明。
func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, errors.New("token string is empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return claims, nil
}
