// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestStaticToken(t *testing.T) {
	tp := StaticToken("abc")
	got, err := tp(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", got)
}

func TestAccountNamePrefersEmail(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"sub": "user-1", "email": "user@example.com"})
	name, err := AccountName(tok)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", name)
}

func TestAccountNameFallsBackToSubject(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"sub": "user-1"})
	name, err := AccountName(tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", name)
}

func TestAccountNameRejectsOpaqueTokens(t *testing.T) {
	_, err := AccountName("not-a-jwt")
	require.Error(t, err)

	tok := signedToken(t, jwt.MapClaims{"aud": "nobody"})
	_, err = AccountName(tok)
	require.Error(t, err)
}
