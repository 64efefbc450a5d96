package auth

import (
	"encoding/json"
	"net/http"

	"ledger/internal/log"
)

// Middleware rejects requests without a valid bearer token and stores the
// token's user on the request context.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := BearerToken(r)
		if err != nil {
			unauthorized(w, err.Error())
			return
		}
		userID, err := i.VerifyToken(token)
		if err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Rejected bearer token",
				log.FieldError, err.Error(),
				log.FieldPath, r.URL.Path)
			unauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="ledger"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
