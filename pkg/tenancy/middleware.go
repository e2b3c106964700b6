package tenancy

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Middleware returns HTTP middleware that resolves the actor using the
// provided ActorResolver and stores it in the request context. On resolution
// failure it responds with a 400 JSON error, or 401 for ErrUnauthenticated.
func Middleware(resolver ActorResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, err := resolver.Resolve(r)
			if err != nil {
				status, code := http.StatusBadRequest, "bad_request"
				if errors.Is(err, ErrUnauthenticated) {
					status, code = http.StatusUnauthorized, "unauthenticated"
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   code,
					"message": err.Error(),
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), a)))
		})
	}
}

// NewMiddleware creates middleware with the resolver for the given TenancyMode.
func NewMiddleware(mode TenancyMode) func(http.Handler) http.Handler {
	var resolver ActorResolver
	switch mode {
	case ModeHeader:
		resolver = HeaderTenantResolver{}
	default:
		resolver = SingleTenantResolver{}
	}
	return Middleware(resolver)
}
