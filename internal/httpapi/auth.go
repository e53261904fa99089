package httpapi

import (
	"context"
	"net/http"
	"strings"

	"gend/pkg/types"
)

// Identity is supplied by the reverse proxy in front of the daemon via the
// X-Auth-Subject and X-Auth-Role headers. The daemon never validates
// credentials itself; it only enforces ownership against the asserted
// subject.
const (
	headerSubject = "X-Auth-Subject"
	headerRole    = "X-Auth-Role"
)

type ctxKey int

const identityKey ctxKey = iota

// requireIdentity rejects requests without an asserted subject and injects
// the identity into the request context for handlers.
func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimSpace(r.Header.Get(headerSubject))
		if subject == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing "+headerSubject+" header")
			return
		}
		ident := types.Identity{
			Subject: subject,
			Role:    strings.TrimSpace(r.Header.Get(headerRole)),
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), ident)))
	})
}

func withIdentity(ctx context.Context, ident types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// identityFrom returns the identity injected by requireIdentity. Handlers
// behind the middleware can rely on it being present.
func identityFrom(ctx context.Context) types.Identity {
	ident, _ := ctx.Value(identityKey).(types.Identity)
	return ident
}
