// Package auth supplies the bearer credential the dialer presents to the
// contact source and the console backend.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/callcenter/dialer/internal/model"
)

var (
	ErrNoCredential = errors.New("no bearer credential configured")
	ErrInvalidToken = errors.New("invalid token")
)

// Credential yields the value of the Authorization bearer.
type Credential interface {
	Token() (string, error)
}

// StaticToken is a pre-issued bearer.
type StaticToken string

func (s StaticToken) Token() (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// AgentClaims identify the agent session that is dialing.
type AgentClaims struct {
	Extension string `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints short-lived HS256 agent tokens and reuses one until it is
// close to expiry.
type Signer struct {
	key       []byte
	issuer    string
	agentID   string
	extension string
	ttl       time.Duration
	now       func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

func NewSigner(key []byte, issuer, agentID, extension string, ttl time.Duration) *Signer {
	if issuer == "" {
		issuer = "dialer"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{
		key:       key,
		issuer:    issuer,
		agentID:   agentID,
		extension: extension,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *Signer) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	// Re-mint once a fifth of the lifetime remains.
	if s.cached != "" && now.Before(s.expires.Add(-s.ttl/5)) {
		return s.cached, nil
	}

	expires := now.Add(s.ttl)
	claims := AgentClaims{
		Extension: s.extension,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   s.agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign agent token: %w", err)
	}
	s.cached = signed
	s.expires = expires
	return signed, nil
}

// Verify parses a token minted by a Signer with the same key.
func Verify(key []byte, token string) (*AgentClaims, error) {
	claims := &AgentClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// FromConfig picks the signer when a signing key is set, otherwise the static token.
func FromConfig(cfg model.AuthConfig, agent model.AgentConfig) Credential {
	if cfg.SigningKey != "" {
		return NewSigner([]byte(cfg.SigningKey), cfg.Issuer, agent.ID, agent.Extension,
			time.Duration(cfg.TTLSec)*time.Second)
	}
	return StaticToken(cfg.Token)
}

// Apply sets the Authorization header. A missing credential leaves the request
// unauthenticated so the remote side decides.
func Apply(req *http.Request, cred Credential) error {
	if cred == nil {
		return nil
	}
	tok, err := cred.Token()
	if errors.Is(err, ErrNoCredential) {
		return nil
	}
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}
