package auth

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"strings"

	"github.com/opsbridge/msigbridge/internal/apierror"
)

type contextKey int

const principalKey contextKey = 0

// watchOnlyAllowList is the fixed set of read-only paths a WatchOnly
// principal may reach. Anything else is Forbidden, never Unauthorized: the
// token itself is valid, it just lacks the privilege.
var watchOnlyAllowList = map[string]bool{
	"/info":                     true,
	"/getoperationbyidx":        true,
	"/getcurrentaddressindices": true,
	"/getfile":                  true,
	"/ws/operations":            true,
}

// Resolver maps a verified xpub claim to its configured cosigner index.
type Resolver struct {
	rootKey   ed25519.PublicKey
	xpubToIdx map[string]int
}

func NewResolver(rootKey ed25519.PublicKey, xpubToIdx map[string]int) *Resolver {
	return &Resolver{rootKey: rootKey, xpubToIdx: xpubToIdx}
}

// Authenticate implements the 6-step middleware contract against a bare
// Authorization header value (without the "Bearer " prefix stripped), given
// the request path it is being evaluated for.
func (r *Resolver) Authenticate(authHeader, path string) (Principal, *apierror.APIError) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return Principal{}, apierror.Unauthorized()
	}
	raw := strings.TrimPrefix(authHeader, prefix)

	claims, err := VerifyToken(raw, r.rootKey)
	if err != nil {
		return Principal{}, apierror.Unauthorized()
	}

	var principal Principal
	switch {
	case claims.Role == RoleCosigner && claims.Xpub != "":
		idx, known := r.xpubToIdx[claims.Xpub]
		if !known {
			return Principal{}, apierror.Unauthorized()
		}
		principal = Principal{Role: RoleCosigner, Xpub: claims.Xpub, Idx: idx}
	case claims.Role == RoleWatchOnly && claims.Xpub == "":
		principal = Principal{Role: RoleWatchOnly}
	default:
		return Principal{}, apierror.Unauthorized()
	}

	if principal.IsWatchOnly() && !watchOnlyAllowList[path] {
		return Principal{}, apierror.Forbidden()
	}

	return principal, nil
}

// Middleware wraps next with the authentication gate, writing an APIError
// response body directly for any failure and never calling next in that case.
func (r *Resolver) Middleware(writeError func(http.ResponseWriter, *apierror.APIError), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		principal, apiErr := r.Authenticate(req.Header.Get("Authorization"), req.URL.Path)
		if apiErr != nil {
			writeError(w, apiErr)
			return
		}
		ctx := context.WithValue(req.Context(), principalKey, principal)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// FromContext retrieves the Principal attached by Middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
