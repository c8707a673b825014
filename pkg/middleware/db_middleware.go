package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spkampus/portal/pkg/composables"
)

// Provide binds the pool to every request context. Repositories open their
// own transactions from it.
func Provide(pool *pgxpool.Pool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pool == nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(composables.WithPool(r.Context(), pool)))
		})
	}
}
