package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialsValidate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr string
	}{
		{name: "ok", creds: Credentials{Email: "ada@example.com", Password: "secret1"}},
		{name: "missing email", creds: Credentials{Password: "secret1"}, wantErr: "email is required"},
		{name: "bad email", creds: Credentials{Email: "ada", Password: "secret1"}, wantErr: "email is invalid"},
		{name: "short password", creds: Credentials{Email: "ada@example.com", Password: "12345"}, wantErr: "password must be at least 6 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestRegistrationValidate(t *testing.T) {
	base := Registration{Username: "ada", Email: "ada@example.com", Password: "secret1", ConfirmPassword: "secret1"}
	assert.NoError(t, base.Validate())

	short := base
	short.Username = "al"
	assert.EqualError(t, short.Validate(), "username must be at least 3 characters")

	mismatch := base
	mismatch.ConfirmPassword = "secret2"
	assert.EqualError(t, mismatch.Validate(), "passwords do not match")

	padded := base
	padded.Email = "  ada@example.com "
	assert.NoError(t, padded.Validate())
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("GitHub")
	assert.NoError(t, err)
	assert.Equal(t, ProviderGitHub, p)
	assert.Equal(t, "github.com", p.providerID())
	assert.Equal(t, "access_token", p.tokenParam())

	_, err = ParseProvider("facebook")
	assert.Error(t, err)
}

func TestIdentityErrorMessage(t *testing.T) {
	assert.EqualError(t, &IdentityError{StatusCode: 400, Code: "EMAIL_EXISTS"}, "email already in use")
	assert.EqualError(t, &IdentityError{StatusCode: 400, Code: "WEAK_PASSWORD : Password should be at least 6 characters"}, "identity provider error: WEAK_PASSWORD : Password should be at least 6 characters")
	assert.EqualError(t, &IdentityError{StatusCode: 503}, "identity provider returned status 503")
}
