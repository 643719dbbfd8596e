// Package auth guards the operator management API with an optional HS256
// bearer token. An empty secret disables the check entirely, which is the
// single-operator default behind a trusted network.
package auth

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// JWTCfg holds operator authentication configuration.
type JWTCfg struct {
	HS256Secret string // HMAC secret; empty disables authentication
}

// Middleware creates HTTP middleware for operator JWT authentication.
func Middleware(cfg JWTCfg) func(http.Handler) http.Handler {
	if cfg.HS256Secret == "" {
		log.Warn().Msg("AUTH_SECRET not set - management API is unauthenticated")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.HS256Secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Extract token from Authorization header
			tok := ""
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}
			if tok == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims := jwt.MapClaims{}
			t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
				// Verify signing method
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(cfg.HS256Secret), nil
			})
			if err != nil || !t.Valid {
				log.Warn().Err(err).Msg("jwt validation failed")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
