// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth validates the bearer tokens the HTTP API accepts on
// mutating endpoints, grounded on the teacher's
// internal/controller/auth JWT validator.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds the HS256 signing secret and claim constraints the
// validator checks. A zero-value Config (empty Secret) disables auth
// entirely; NewValidator returns nil in that case.
type Config struct {
	Secret    []byte
	Issuer    string
	ClockSkew time.Duration
}

// Claims are the claims fyreflowd issues and validates.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// Validator checks bearer tokens against a fixed HS256 secret.
type Validator struct {
	cfg Config
}

// NewValidator builds a Validator, or returns nil if cfg has no secret
// configured (auth disabled).
func NewValidator(cfg Config) *Validator {
	if len(cfg.Secret) == 0 {
		return nil
	}
	return &Validator{cfg: cfg}
}

// Validate parses and verifies tokenString, returning its claims.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token is empty")
	}

	parser := jwt.NewParser(jwt.WithLeeway(v.cfg.ClockSkew))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return v.cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if v.cfg.Issuer != "" && claims.Issuer != v.cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer: expected %s, got %s", v.cfg.Issuer, claims.Issuer)
	}
	return claims, nil
}

// Issue signs a new token for subject with the given scopes, valid for ttl.
func (v *Validator) Issue(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.cfg.Secret)
}
