// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/exedra-dev/xrgate/model"
	jwt "github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("a-test-secret-at-least-16-bytes")

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

// captureHandler records the principal the middleware resolved.
func capturePrincipal(seen *model.PrincipalRef) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ref, ok := Principal(r.Context()); ok {
			*seen = ref
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareBearerToken(t *testing.T) {
	assert := assert.New(t)

	var seen model.PrincipalRef
	handler := NewPrincipalMiddleware(testSecret, nil)(capturePrincipal(&seen))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)

	assert.Equal(http.StatusOK, response.Code)
	assert.Equal(model.PrincipalRef("alice"), seen)
}

func TestMiddlewarePrincipalHeader(t *testing.T) {
	assert := assert.New(t)

	var seen model.PrincipalRef
	handler := NewPrincipalMiddleware(testSecret, nil)(capturePrincipal(&seen))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(PrincipalHeaderKey, "internal-job")
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)

	assert.Equal(http.StatusOK, response.Code)
	assert.Equal(model.PrincipalRef("internal-job"), seen)
}

func TestMiddlewareRejects(t *testing.T) {
	tests := []struct {
		description string
		decorate    func(*testing.T, *http.Request)
	}{
		{
			description: "NoCredentials",
			decorate:    func(*testing.T, *http.Request) {},
		},
		{
			description: "WrongSecret",
			decorate: func(t *testing.T, r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, []byte("some-other-secret-entirely"), jwt.MapClaims{"sub": "alice"}))
			},
		},
		{
			description: "ExpiredToken",
			decorate: func(t *testing.T, r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{
					"sub": "alice",
					"exp": time.Now().Add(-time.Hour).Unix(),
				}))
			},
		},
		{
			description: "NoSubjectClaim",
			decorate: func(t *testing.T, r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{"scope": "all"}))
			},
		},
		{
			description: "MalformedToken",
			decorate: func(_ *testing.T, r *http.Request) {
				r.Header.Set("Authorization", "Bearer not.a.token")
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			var seen model.PrincipalRef
			handler := NewPrincipalMiddleware(testSecret, nil)(capturePrincipal(&seen))

			request := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.decorate(t, request)
			response := httptest.NewRecorder()
			handler.ServeHTTP(response, request)

			assert.Equal(t, http.StatusUnauthorized, response.Code)
			assert.Empty(t, seen)
		})
	}
}
