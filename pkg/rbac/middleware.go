package rbac

import (
	"net/http"

	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
)

// RequirePermission creates middleware that lets a request through only
// when the user of its session may perform action on resource
func RequirePermission(checker *Checker, resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := checker.Check(r.Context(), middleware.UserFromRequest(r), resource, action); err != nil {
				httputil.WriteDomainError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
