package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"incidentry.org/internal/auth"
)

const authHeader = "Authorization"

// Routes exempt from identity resolution. The gate, not the resolver, owns
// this allow-list.
var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/time",
	"/v1/info",
	"/v1/auth/register",
	"/v1/auth/token",
}

// withAuth is the request gate: it resolves the caller identity once per
// request and attaches it to the context, or short-circuits with 401. It
// guarantees a verified identity is present downstream, not that any given
// action is allowed; handlers authorize their own actions.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := a.resolver.Resolve(r.Context(), r.Header.Get(authHeader))
		if err != nil {
			respondAuthError(w, r, err)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), identity)
		if token, tokenErr := auth.ExtractBearerToken(r.Header.Get(authHeader)); tokenErr == nil {
			ctx = auth.ContextWithToken(ctx, token)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func respondAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		writeError(w, r, http.StatusUnauthorized, "missing_credential", "authorization credential is missing or malformed")
	case errors.Is(err, auth.ErrUserNotProvisioned):
		writeError(w, r, http.StatusUnauthorized, "user_not_provisioned", "identity verified but not registered; complete registration first")
	case errors.Is(err, auth.ErrInvalidCredential):
		writeError(w, r, http.StatusUnauthorized, "invalid_credential", "authorization credential was rejected")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal", "authentication error")
	}
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// identityFrom pulls the verified caller out of the request context. Handlers
// behind the gate can rely on it being present.
func identityFrom(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing_credential", "caller identity is not available")
		return auth.Identity{}, false
	}
	return identity, true
}

// trimPathPrefix returns the remainder after prefix with surrounding slashes
// removed, or "" when the path does not extend past the prefix.
func trimPathPrefix(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	return strings.Trim(rest, "/")
}
