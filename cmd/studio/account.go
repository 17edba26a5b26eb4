package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portraitStudio/internal/auth"
)

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlagSet("login", a.stderr)
	email := fs.String("email", "", "登录邮箱")
	password := fs.String("password", "", "密码（缺省时从标准输入读取）")
	provider := fs.String("provider", "", "第三方登录：google 或 github")
	token := fs.String("token", "", "第三方登录凭据（Google ID Token / GitHub Access Token）")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		state *auth.SessionState
		err   error
	)
	if *provider != "" {
		p, perr := auth.ParseProvider(*provider)
		if perr != nil {
			return perr
		}
		state, err = a.session.SignInWithProvider(ctx, p, *token)
	} else {
		if *password == "" {
			if *password, err = a.prompt("Password"); err != nil {
				return err
			}
		}
		state, err = a.session.SignInWithPassword(ctx, auth.Credentials{Email: *email, Password: *password})
	}
	if err != nil {
		return err
	}
	return a.printer.Print(viewOf(state))
}

func (a *app) signup(ctx context.Context, args []string) error {
	fs := newFlagSet("signup", a.stderr)
	username := fs.String("username", "", "显示名称")
	email := fs.String("email", "", "注册邮箱")
	password := fs.String("password", "", "密码（缺省时从标准输入读取）")
	confirm := fs.String("confirm", "", "确认密码（缺省时与 -password 相同）")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *password == "" {
		var err error
		if *password, err = a.prompt("Password"); err != nil {
			return err
		}
		if *confirm, err = a.prompt("Confirm password"); err != nil {
			return err
		}
	}
	if *confirm == "" {
		*confirm = *password
	}

	state, err := a.session.SignUp(ctx, auth.Registration{
		Username:        *username,
		Email:           *email,
		Password:        *password,
		ConfirmPassword: *confirm,
	})
	if err != nil {
		return err
	}
	return a.printer.Print(viewOf(state))
}

func (a *app) logout() error {
	if err := a.session.SignOut(); err != nil {
		return err
	}
	fmt.Fprintln(a.stderr, "signed out")
	return nil
}

func (a *app) whoami() error {
	state, err := a.session.Current()
	if errors.Is(err, auth.ErrNotSignedIn) {
		return errors.New("not signed in, run: studio login")
	}
	if err != nil {
		return err
	}
	return a.printer.Print(viewOf(state))
}

// sessionView 是打印给用户的会话信息，不含任何 Token。
type sessionView struct {
	UserID      string    `json:"uid" yaml:"uid"`
	Email       string    `json:"email,omitempty" yaml:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Provider    string    `json:"provider" yaml:"provider"`
	ExpiresAt   time.Time `json:"expires_at" yaml:"expires_at"`
}

func viewOf(s *auth.SessionState) sessionView {
	return sessionView{
		UserID:      s.UserID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		Provider:    s.Provider,
		ExpiresAt:   s.ExpiresAt,
	}
}
