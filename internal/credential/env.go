package credential

import (
	"context"
	"os"
	"strings"
	"unicode"

	"github.com/brandon/mailflow/internal/config"
	"github.com/brandon/mailflow/pkg/types"
)

// Env reads account passwords from MAILFLOW_PASSWORD_<ID>. The account ID
// is upper-cased and anything but ASCII letters and digits becomes '_'.
type Env struct {
	lookup func(string) (string, bool)
}

// NewEnv creates a provider over the process environment.
func NewEnv() *Env {
	return &Env{lookup: os.LookupEnv}
}

// EnvVar returns the variable holding the password of an account.
func EnvVar(account types.Account) string {
	id := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, account.ID)
	return config.EnvPrefix + "_PASSWORD_" + id
}

// GetPassword implements email.CredentialProvider.
func (e *Env) GetPassword(_ context.Context, account types.Account) (string, bool, error) {
	p, ok := e.lookup(EnvVar(account))
	if !ok || p == "" {
		return "", false, nil
	}
	return p, true, nil
}
