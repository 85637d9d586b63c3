// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/exedra-dev/xrgate/model"
	jwt "github.com/golang-jwt/jwt"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
)

// PrincipalHeaderKey lets internal callers name a principal directly,
// bypassing the bearer token. Session issuance itself happens in the portal,
// not here.
const PrincipalHeaderKey = "X-Xrgate-Principal"

type contextKey struct{}

var errUnexpectedSigningMethod = errors.New("unexpected jwt signing method")

// Principal extracts the authenticated principal from a request context.
func Principal(ctx context.Context) (model.PrincipalRef, bool) {
	ref, ok := ctx.Value(contextKey{}).(model.PrincipalRef)
	return ref, ok && ref != ""
}

// WithPrincipal attaches a principal to a context. Exposed for tests and
// internal dispatch.
func WithPrincipal(ctx context.Context, ref model.PrincipalRef) context.Context {
	return context.WithValue(ctx, contextKey{}, ref)
}

// NewPrincipalMiddleware resolves the calling principal from the portal's
// bearer token (HS256, subject claim) or the internal header, rejecting
// requests that carry neither.
func NewPrincipalMiddleware(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = sallust.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ref, err := principalFromRequest(r, secret)
			if err != nil {
				logger.Debug("rejecting request without a resolvable principal", zap.Error(err))
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), ref)))
		})
	}
}

func principalFromRequest(r *http.Request, secret []byte) (model.PrincipalRef, error) {
	if header := r.Header.Get(PrincipalHeaderKey); header != "" {
		return model.PrincipalRef(header), nil
	}

	authorization := r.Header.Get("Authorization")
	raw := strings.TrimPrefix(authorization, "Bearer ")
	if raw == "" || raw == authorization {
		return "", errors.New("no bearer token or principal header")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedSigningMethod
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return "", errors.New("token carries no subject claim")
	}
	return model.PrincipalRef(subject), nil
}
