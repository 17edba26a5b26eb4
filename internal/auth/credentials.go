package auth

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	credentialsOnce     sync.Once
	credentialsValidate *validator.Validate
)

func validatorInstance() *validator.Validate {
	credentialsOnce.Do(func() {
		credentialsValidate = validator.New(validator.WithRequiredStructEnabled())
	})
	return credentialsValidate
}

// Credentials 是邮箱登录表单。
type Credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

// Registration 是注册表单，ConfirmPassword 必须与 Password 一致。
type Registration struct {
	Username        string `validate:"required,min=3"`
	Email           string `validate:"required,email"`
	Password        string `validate:"required,min=6"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
}

// Validate 校验登录表单，返回首个面向用户的错误信息。
func (c Credentials) Validate() error {
	c.Email = strings.TrimSpace(c.Email)
	return describe(validatorInstance().Struct(c))
}

// Validate 校验注册表单。
func (r Registration) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	return describe(validatorInstance().Struct(r))
}

func describe(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	switch fe.Field() {
	case "Email":
		if fe.Tag() == "required" {
			return errors.New("email is required")
		}
		return errors.New("email is invalid")
	case "Password":
		if fe.Tag() == "required" {
			return errors.New("password is required")
		}
		return errors.New("password must be at least 6 characters")
	case "Username":
		if fe.Tag() == "required" {
			return errors.New("username is required")
		}
		return errors.New("username must be at least 3 characters")
	case "ConfirmPassword":
		return errors.New("passwords do not match")
	default:
		return err
	}
}
