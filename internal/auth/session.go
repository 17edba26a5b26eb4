package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"portraitStudio/internal/config"
)

// refreshWindow 内即将过期的 ID Token 会在使用前刷新。
const refreshWindow = time.Minute

// ErrNotSignedIn 表示本地没有可用的会话。
var ErrNotSignedIn = errors.New("not signed in")

// Syncer 在登录成功后把用户同步到 REST 后端。
type Syncer interface {
	SyncUser(ctx context.Context, uid, idToken string) error
}

// SessionState 是持久化到本地 JSON 文件的会话内容。
type SessionState struct {
	UserID       string    `json:"uid" yaml:"uid"`
	Email        string    `json:"email,omitempty" yaml:"email,omitempty"`
	DisplayName  string    `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Provider     string    `json:"provider" yaml:"provider"`
	IDToken      string    `json:"id_token" yaml:"-"`
	RefreshToken string    `json:"refresh_token" yaml:"-"`
	ExpiresAt    time.Time `json:"expires_at" yaml:"expires_at"`
}

// Session 管理当前用户的登录状态，并作为 TokenSource 为后端与任务客户端提供 ID Token。
type Session struct {
	path     string
	identity *IdentityClient
	syncer   Syncer
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	state *SessionState
}

// NewSession 构造会话；syncer 为 nil 时跳过后端同步。
func NewSession(cfg config.IdentityConfig, identity *IdentityClient, syncer Syncer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		path:     cfg.SessionFile,
		identity: identity,
		syncer:   syncer,
		logger:   logger,
		now:      time.Now,
	}
}

// SignInWithPassword 校验表单后使用邮箱密码登录。
func (s *Session) SignInWithPassword(ctx context.Context, creds Credentials) (*SessionState, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	acct, err := s.identity.SignInWithPassword(ctx, strings.TrimSpace(creds.Email), creds.Password)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return s.establish(ctx, acct, "password")
}

// SignUp 创建账号、设置显示名称并登录。
func (s *Session) SignUp(ctx context.Context, reg Registration) (*SessionState, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	acct, err := s.identity.SignUp(ctx, strings.TrimSpace(reg.Email), reg.Password)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	username := strings.TrimSpace(reg.Username)
	if err := s.identity.UpdateDisplayName(ctx, acct.IDToken, username); err != nil {
		return nil, fmt.Errorf("set display name: %w", err)
	}
	acct.DisplayName = username
	return s.establish(ctx, acct, "password")
}

// SignInWithProvider 使用 Google/GitHub 的凭据登录。
func (s *Session) SignInWithProvider(ctx context.Context, provider Provider, providerToken string) (*SessionState, error) {
	if strings.TrimSpace(providerToken) == "" {
		return nil, errors.New("provider token is required")
	}
	acct, err := s.identity.SignInWithIdp(ctx, provider, providerToken)
	if err != nil {
		return nil, fmt.Errorf("sign in with %s: %w", provider, err)
	}
	return s.establish(ctx, acct, string(provider))
}

// SignOut 删除本地会话文件。
func (s *Session) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// Current 返回当前会话，不触发刷新。
func (s *Session) Current() (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	copied := *state
	return &copied, nil
}

// Token 返回可用的 ID Token，必要时先刷新并写回会话文件。
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return "", err
	}
	if s.now().Add(refreshWindow).Before(state.ExpiresAt) {
		return state.IDToken, nil
	}

	acct, err := s.identity.Refresh(ctx, state.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh id token: %w", err)
	}
	// 写文件成功后 saveLocked 才替换缓存。
	next := *state
	next.IDToken = acct.IDToken
	if acct.RefreshToken != "" {
		next.RefreshToken = acct.RefreshToken
	}
	next.ExpiresAt = s.expiry(acct)
	if err := s.saveLocked(&next); err != nil {
		return "", err
	}
	s.logger.Debug("id token refreshed", slog.String("uid", next.UserID))
	return next.IDToken, nil
}

func (s *Session) establish(ctx context.Context, acct *Account, provider string) (*SessionState, error) {
	if acct.UserID == "" || acct.IDToken == "" {
		return nil, errors.New("user not found")
	}
	if s.syncer != nil {
		if err := s.syncer.SyncUser(ctx, acct.UserID, acct.IDToken); err != nil {
			s.logger.Error("sync with backend failed", slog.String("uid", acct.UserID), slog.Any("error", err))
			return nil, fmt.Errorf("failed to sync with backend: %w", err)
		}
	}

	state := &SessionState{
		UserID:       acct.UserID,
		Email:        acct.Email,
		DisplayName:  acct.DisplayName,
		Provider:     provider,
		IDToken:      acct.IDToken,
		RefreshToken: acct.RefreshToken,
		ExpiresAt:    s.expiry(acct),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(state); err != nil {
		return nil, err
	}
	s.logger.Info("signed in", slog.String("uid", state.UserID), slog.String("provider", provider))
	copied := *state
	return &copied, nil
}

// expiry 优先读取 ID Token 自带的 exp，读不到时退回 expiresIn。
func (s *Session) expiry(acct *Account) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(acct.IDToken, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return s.now().Add(acct.ExpiresIn)
}

func (s *Session) loadLocked() (*SessionState, error) {
	if s.state != nil {
		return s.state, nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotSignedIn
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	if state.IDToken == "" {
		return nil, ErrNotSignedIn
	}
	s.state = &state
	return s.state, nil
}

func (s *Session) saveLocked(state *SessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	s.state = state
	return nil
}
