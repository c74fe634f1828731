package platform

import (
	"context"
	"os"
	"strings"
)

// TokenSource resolves the access token of a hosting account. A source
// that has no token for the account returns "", nil.
type TokenSource interface {
	Token(ctx context.Context, account string) (string, error)
}

// EnvVar names the environment variable holding an account's token:
// PAT_<ACCOUNT>, upper-cased, with anything outside [A-Z0-9_] replaced by _.
func EnvVar(account string) string {
	return "PAT_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, account)
}

// EnvTokens reads tokens from PAT_<ACCOUNT> environment variables.
type EnvTokens struct {
	lookup func(string) (string, bool)
}

// NewEnvTokens reads the process environment.
func NewEnvTokens() EnvTokens {
	return EnvTokens{lookup: os.LookupEnv}
}

// Token implements TokenSource.
func (e EnvTokens) Token(_ context.Context, account string) (string, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(EnvVar(account))
	return strings.TrimSpace(v), nil
}

// StaticTokens maps accounts to tokens.
type StaticTokens map[string]string

// Token implements TokenSource.
func (s StaticTokens) Token(_ context.Context, account string) (string, error) {
	return s[account], nil
}

// ChainTokens asks each source in order and returns the first token found.
type ChainTokens []TokenSource

// Token implements TokenSource.
func (c ChainTokens) Token(ctx context.Context, account string) (string, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		tok, err := src.Token(ctx, account)
		if err != nil {
			return "", err
		}
		if tok != "" {
			return tok, nil
		}
	}
	return "", nil
}
