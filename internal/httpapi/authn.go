package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"sportai.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// RequireOperation wraps a business handler: the bearer token must resolve
// to a live session whose role may perform op. The identity and token land
// in the request context. Session failures map to 401 before the request
// reaches the handler; insufficient role maps to 403.
func (a *API) RequireOperation(op auth.Operation, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		identity, err := a.auth.Authorize(r.Context(), token, op)
		if err != nil {
			a.writeAuthError(w, err)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), *identity)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
