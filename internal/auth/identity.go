package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"portraitStudio/internal/config"
)

const (
	identityErrorBodyLimit = 8 * 1024
	defaultIdentityTimeout = 15 * time.Second
)

// Provider 是支持的第三方登录方式。
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// ParseProvider accepts google or github in any case.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderGoogle:
		return ProviderGoogle, nil
	case ProviderGitHub:
		return ProviderGitHub, nil
	default:
		return "", fmt.Errorf("unsupported sign-in provider %q", s)
	}
}

func (p Provider) providerID() string {
	if p == ProviderGitHub {
		return "github.com"
	}
	return "google.com"
}

// tokenParam 是 signInWithIdp 的 postBody 中携带凭据的字段名。
func (p Provider) tokenParam() string {
	if p == ProviderGitHub {
		return "access_token"
	}
	return "id_token"
}

// IdentityError 是身份服务返回的错误，Code 形如 EMAIL_EXISTS。
type IdentityError struct {
	StatusCode int
	Code       string
}

var identityMessages = map[string]string{
	"EMAIL_EXISTS":                     "email already in use",
	"EMAIL_NOT_FOUND":                  "invalid email or password",
	"INVALID_PASSWORD":                 "invalid email or password",
	"INVALID_LOGIN_CREDENTIALS":        "invalid email or password",
	"USER_DISABLED":                    "account is disabled",
	"TOKEN_EXPIRED":                    "session expired, please sign in again",
	"INVALID_REFRESH_TOKEN":            "session expired, please sign in again",
	"USER_NOT_FOUND":                   "account no longer exists",
	"INVALID_IDP_RESPONSE":             "provider token was rejected",
	"FEDERATED_USER_ID_ALREADY_LINKED": "an account already exists with a different sign-in method",
}

func (e *IdentityError) Error() string {
	code := e.Code
	if i := strings.Index(code, " "); i > 0 {
		code = code[:i]
	}
	if msg, ok := identityMessages[code]; ok {
		return msg
	}
	if e.Code == "" {
		return fmt.Sprintf("identity provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("identity provider error: %s", e.Code)
}

// Account 是一次成功登录/刷新得到的凭据。
type Account struct {
	UserID       string
	Email        string
	DisplayName  string
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
}

// IdentityClient 通过托管身份服务的 REST 接口完成登录、注册与令牌刷新。
type IdentityClient struct {
	apiKey     string
	baseURL    string
	tokenURL   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewIdentityClient 构造身份服务客户端。
func NewIdentityClient(cfg config.IdentityConfig, logger *slog.Logger) *IdentityClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityClient{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		tokenURL:   strings.TrimSpace(cfg.TokenURL),
		httpClient: &http.Client{Timeout: defaultIdentityTimeout},
		logger:     logger,
	}
}

type accountResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

func (r accountResponse) account() *Account {
	return &Account{
		UserID:       r.LocalID,
		Email:        r.Email,
		DisplayName:  r.DisplayName,
		IDToken:      r.IDToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    parseExpiresIn(r.ExpiresIn),
	}
}

// SignInWithPassword 使用邮箱密码登录。
func (c *IdentityClient) SignInWithPassword(ctx context.Context, email, password string) (*Account, error) {
	body := map[string]any{"email": email, "password": password, "returnSecureToken": true}
	var resp accountResponse
	if err := c.post(ctx, "accounts:signInWithPassword", body, &resp); err != nil {
		return nil, err
	}
	return resp.account(), nil
}

// SignUp 创建邮箱账号。
func (c *IdentityClient) SignUp(ctx context.Context, email, password string) (*Account, error) {
	body := map[string]any{"email": email, "password": password, "returnSecureToken": true}
	var resp accountResponse
	if err := c.post(ctx, "accounts:signUp", body, &resp); err != nil {
		return nil, err
	}
	return resp.account(), nil
}

// UpdateDisplayName sets the profile display name of the signed-in account.
func (c *IdentityClient) UpdateDisplayName(ctx context.Context, idToken, displayName string) error {
	body := map[string]any{"idToken": idToken, "displayName": displayName, "returnSecureToken": false}
	return c.post(ctx, "accounts:update", body, nil)
}

// SignInWithIdp 用第三方（Google/GitHub）凭据换取账号令牌。
func (c *IdentityClient) SignInWithIdp(ctx context.Context, provider Provider, providerToken string) (*Account, error) {
	postBody := url.Values{}
	postBody.Set(provider.tokenParam(), providerToken)
	postBody.Set("providerId", provider.providerID())
	body := map[string]any{
		"postBody":          postBody.Encode(),
		"requestUri":        "http://localhost",
		"returnSecureToken": true,
	}
	var resp accountResponse
	if err := c.post(ctx, "accounts:signInWithIdp", body, &resp); err != nil {
		return nil, err
	}
	return resp.account(), nil
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

// Refresh 使用 refresh token 换取新的 ID Token。
func (c *IdentityClient) Refresh(ctx context.Context, refreshToken string) (*Account, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.withKey(c.tokenURL), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp refreshResponse
	if err := c.send(req, "refresh token", &resp); err != nil {
		return nil, err
	}
	return &Account{
		UserID:       resp.UserID,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    parseExpiresIn(resp.ExpiresIn),
	}, nil
}

func (c *IdentityClient) post(ctx context.Context, method string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.withKey(c.baseURL+"/"+method), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, method, out)
}

func (c *IdentityClient) withKey(target string) string {
	if c.apiKey == "" {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + "key=" + url.QueryEscape(c.apiKey)
}

func (c *IdentityClient) send(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, identityErrorBodyLimit))
		var payload struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &payload)
		idErr := &IdentityError{StatusCode: resp.StatusCode, Code: payload.Error.Message}
		c.logger.Warn("identity request rejected",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("code", idErr.Code),
		)
		return idErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func parseExpiresIn(raw string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || secs <= 0 {
		return time.Hour
	}
	return time.Duration(secs) * time.Second
}

// IsIdentityError reports whether err came from the identity provider with the given code.
func IsIdentityError(err error, code string) bool {
	var idErr *IdentityError
	return errors.As(err, &idErr) && strings.HasPrefix(idErr.Code, code)
}
