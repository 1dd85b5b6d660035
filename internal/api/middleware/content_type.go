// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/ManuGH/hidocu/internal/log"
)

// RequireJSON rejects requests whose Content-Type is not application/json
// with a JSON 415. Browsers cannot send that type cross-origin without a
// preflight, so form posts and no-cors fetches never reach the handler.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnsupportedMediaType)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":     "unsupported_media_type",
				"detail":    "Content-Type must be application/json",
				"requestId": log.CorrelationIDFromContext(r.Context()),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
