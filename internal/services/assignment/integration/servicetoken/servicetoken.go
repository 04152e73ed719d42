// Package servicetoken mints short-lived service tokens for calls to the
// split registry API.
package servicetoken

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/divergence.space/internal/platform/id"
)

// serviceTokenEnv holds raw env values before post-parse validation.
type serviceTokenEnv struct {
	Issuer     string        `env:"DIVERGENCE_SPACE_SERVICE_TOKEN_ISSUER"`
	Audience   string        `env:"DIVERGENCE_SPACE_SERVICE_TOKEN_AUDIENCE"`
	PrivateKey string        `env:"DIVERGENCE_SPACE_SERVICE_TOKEN_PRIVATE_KEY"`
	TTL        time.Duration `env:"DIVERGENCE_SPACE_SERVICE_TOKEN_TTL" envDefault:"5m"`
}

// Config defines how service tokens are minted.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	TTL      time.Duration
	Now      func() time.Time
}

// Signer mints service tokens.
type Signer struct {
	cfg   Config
	newID func() (string, error)
}

// LoadConfigFromEnv reads service token minting configuration. It returns a
// zero config and no error when the private key is unset so callers can treat
// token minting as optional.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw serviceTokenEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse service token env: %w", err)
	}
	privateKey := strings.TrimSpace(raw.PrivateKey)
	if privateKey == "" {
		return Config{}, nil
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	if issuer == "" {
		return Config{}, fmt.Errorf("DIVERGENCE_SPACE_SERVICE_TOKEN_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("DIVERGENCE_SPACE_SERVICE_TOKEN_AUDIENCE is required")
	}
	keyBytes, err := decodeBase64(privateKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode service token private key: %w", err)
	}
	switch len(keyBytes) {
	case ed25519.PrivateKeySize:
	case ed25519.SeedSize:
		keyBytes = ed25519.NewKeyFromSeed(keyBytes)
	default:
		return Config{}, fmt.Errorf("service token private key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PrivateKey(keyBytes),
		TTL:      raw.TTL,
		Now:      now,
	}, nil
}

// New creates a signer from a config. It returns nil when the config carries
// no key, so a missing key disables token minting instead of failing startup.
func New(cfg Config) (*Signer, error) {
	if len(cfg.Key) == 0 {
		return nil, nil
	}
	if len(cfg.Key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("service token private key must be %d bytes", ed25519.PrivateKeySize)
	}
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("service token signer requires issuer and audience")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Signer{cfg: cfg, newID: id.NewVisitorID}, nil
}

// Token mints one signed token. A nil signer returns an empty token and no
// error.
func (s *Signer) Token() (string, error) {
	if s == nil {
		return "", nil
	}
	jti, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	now := s.cfg.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.cfg.Issuer,
		Audience:  jwt.ClaimStrings{s.cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
		ID:        jti,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.cfg.Key)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
