// Copyright 2026 The Remedy Authors
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

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// reviewerContextKey is the context key the auth middleware stores the
// authenticated caller's identity under, per spec §4.11's rule that the
// reviewer id must come from the auth context, never the request body.
type reviewerContextKey struct{}

// claims mirrors the teacher's auth.Claims: a JWT whose subject/user_id
// claim names the caller.
type claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

// AuthConfig configures the optional bearer-token guardrail (spec §4.12).
// When Enabled is false, auth is disabled and every request is treated as
// coming from the anonymous caller "anonymous".
type AuthConfig struct {
	Secret  []byte
	Issuer  string
	Enabled bool
}

// RequireAuth validates a JWT bearer token when cfg.Enabled is true and
// stores the authenticated subject in the request context. Disabled auth
// still stamps an "anonymous" reviewer identity so downstream handlers
// never see an empty ReviewerID.
func RequireAuth(cfg AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Enabled {
			ctx := context.WithValue(r.Context(), reviewerContextKey{}, "anonymous")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") && !strings.HasPrefix(header, "bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token := strings.TrimSpace(header[len("Bearer "):])

		parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != "HS256" {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return cfg.Secret, nil
		})
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		c, ok := parsed.Claims.(*claims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		if cfg.Issuer != "" && c.Issuer != cfg.Issuer {
			writeError(w, http.StatusUnauthorized, "unexpected token issuer")
			return
		}

		reviewer := c.UserID
		if reviewer == "" {
			reviewer = c.Subject
		}
		if reviewer == "" {
			writeError(w, http.StatusUnauthorized, "token carries no subject or user_id claim")
			return
		}

		ctx := context.WithValue(r.Context(), reviewerContextKey{}, reviewer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ReviewerFromContext returns the caller identity RequireAuth stashed in
// the request context.
func ReviewerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(reviewerContextKey{}).(string); ok {
		return v
	}
	return ""
}
