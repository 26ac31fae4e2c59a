/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callsdk

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// Claims is the payload of tokens issued by TokenSigner.
type Claims struct {
	Subject   string `json:"sub"`
	Issuer    string `json:"iss,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// TokenSigner issues HS256 compact JWS tokens for a user. The same token is
// used as the REST bearer and as the gateway "token" field. Tokens are cached
// until a quarter of their lifetime remains.
type TokenSigner struct {
	signer  jose.Signer
	subject string
	issuer  string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewTokenSigner creates a signer. The key must be at least 32 bytes.
func NewTokenSigner(key []byte, subject, issuer string, ttl time.Duration) (*TokenSigner, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("signing key must be at least 32 bytes, got %d", len(key))
	}
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	return &TokenSigner{
		signer:  signer,
		subject: subject,
		issuer:  issuer,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Token implements TokenSource.
func (s *TokenSigner) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Add(s.ttl/4).Before(s.expires) {
		return s.cached, nil
	}

	claims := Claims{
		Subject:   s.subject,
		Issuer:    s.issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	obj, err := s.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	token, err := obj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize token: %w", err)
	}

	s.cached = token
	s.expires = now.Add(s.ttl)
	return token, nil
}

// VerifyToken checks an HS256 token against key and returns its claims.
// Expired tokens are rejected.
func VerifyToken(token string, key []byte, now time.Time) (*Claims, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	payload, err := jws.Verify(key)
	if err != nil {
		return nil, fmt.Errorf("invalid token signature: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("invalid token claims: %w", err)
	}
	if claims.ExpiresAt > 0 && now.Unix() >= claims.ExpiresAt {
		return nil, fmt.Errorf("token expired")
	}
	return &claims, nil
}
