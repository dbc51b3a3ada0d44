package auth

import (
	"net/http"
	"strings"
)

const (
	userIDHeader = "X-User-Id"
	roleHeader   = "X-Role"
)

// Verifier checks bearer tokens against an HS256 secret and, when configured,
// RS256 keys published over JWKS.
type Verifier struct {
	Secret string
	JWKS   *JWKSClient
}

func (v Verifier) Enabled() bool {
	return v.Secret != "" || v.JWKS != nil
}

func (v Verifier) Verify(r *http.Request) (*Claims, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, ErrInvalidToken
	}

	if v.JWKS != nil {
		header, err := ParseHeader(token)
		if err != nil {
			return nil, err
		}
		if header.Alg == "RS256" && header.Kid != "" {
			pub, err := v.JWKS.Get(r.Context(), header.Kid)
			if err != nil {
				return nil, ErrInvalidToken
			}
			return VerifyRS256(token, pub)
		}
	}
	return ParseAndVerifyHS256(token, v.Secret)
}

// RequireAuth verifies the bearer token and replaces any caller supplied
// identity headers with the token's claims. Requests without a token pass
// through anonymously so public routes keep working; protected handlers
// reject the missing identity. A disabled verifier trusts the X-User-Id
// header set by the gateway instead.
func RequireAuth(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !v.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(userIDHeader)
			r.Header.Del(roleHeader)
			if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := v.Verify(r)
			if err != nil {
				http.Error(w, "missing or invalid bearer token", http.StatusUnauthorized)
				return
			}
			r.Header.Set(userIDHeader, claims.Sub)
			r.Header.Set(roleHeader, claims.Role)
			next.ServeHTTP(w, r)
		})
	}
}
