package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Role is what a token may do.
type Role string

const (
	// RoleAgent may call the collection API under /api/agent.
	RoleAgent Role = "agent"
	// RoleReader may call the web and processor read APIs.
	RoleReader Role = "reader"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoTokens           = errors.New("auth enabled but no tokens configured")
)

// Config is the [server.auth] section. Tokens are either plain secrets or
// bcrypt hashes as printed by `clogs hash-token`.
type Config struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	AgentTokens  []string `toml:"agent_tokens" mapstructure:"agent_tokens"`
	ReaderTokens []string `toml:"reader_tokens" mapstructure:"reader_tokens"`
}

type credential struct {
	role   Role
	secret []byte
	hashed bool
}

// Authenticator checks bearer tokens against the configured credentials.
// A successful bcrypt check is remembered by the token's SHA-256 digest so
// agents sending a heartbeat every few seconds do not pay for it each time.
type Authenticator struct {
	enabled  bool
	creds    []credential
	verified sync.Map // [32]byte -> Role
}

// New validates cfg. A disabled config yields an Authenticator that admits
// every request.
func New(cfg Config) (*Authenticator, error) {
	a := &Authenticator{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return a, nil
	}
	add := func(role Role, tokens []string) error {
		for _, t := range tokens {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			c := credential{role: role, secret: []byte(t)}
			if isBcrypt(t) {
				if _, err := bcrypt.Cost(c.secret); err != nil {
					return fmt.Errorf("%s token hash: %w", role, err)
				}
				c.hashed = true
			}
			a.creds = append(a.creds, c)
		}
		return nil
	}
	if err := add(RoleAgent, cfg.AgentTokens); err != nil {
		return nil, err
	}
	if err := add(RoleReader, cfg.ReaderTokens); err != nil {
		return nil, err
	}
	if len(a.creds) == 0 {
		return nil, ErrNoTokens
	}
	return a, nil
}

func (a *Authenticator) Enabled() bool { return a != nil && a.enabled }

// Authenticate returns the role granted to token.
func (a *Authenticator) Authenticate(token string) (Role, error) {
	if token == "" {
		return "", ErrInvalidCredentials
	}
	digest := sha256.Sum256([]byte(token))
	if r, ok := a.verified.Load(digest); ok {
		return r.(Role), nil
	}
	for _, c := range a.creds {
		if c.hashed {
			if bcrypt.CompareHashAndPassword(c.secret, []byte(token)) == nil {
				a.verified.Store(digest, c.role)
				return c.role, nil
			}
			continue
		}
		if subtle.ConstantTimeCompare(c.secret, []byte(token)) == 1 {
			return c.role, nil
		}
	}
	return "", ErrInvalidCredentials
}

// HashToken returns the bcrypt hash of token for use in the config file.
// cost 0 uses bcrypt.DefaultCost.
func HashToken(token string, cost int) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("empty token")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
