// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth provides the bearer-credential plumbing between the external
// account collaborator and the remote protocol client. Credential
// acquisition itself is a black box; this package only transports the opaque
// token and extracts display claims from it.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider returns a fresh bearer credential for the signed-in
// account. Implementations may block on user interaction or token refresh.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken wraps a fixed credential, mostly for tests and CLI usage.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// AccountName extracts the account identity from a JWT bearer credential
// without verifying its signature; verification is the remote service's
// job and locally the claim is display-only. Non-JWT credentials return an
// error and callers fall back to an empty account name.
func AccountName(token string) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("failed to parse bearer credential: %w", err)
	}
	if email, ok := claims["email"].(string); ok && email != "" {
		return email, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("bearer credential carries no account claim")
	}
	return sub, nil
}
