package middleware

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/davidbz/kiln/internal/config"
)

// exposedHeaders are the response headers browsers may read: the trace id and
// the backoff hint on 429 responses.
var exposedHeaders = []string{"X-Trace-Id", "Retry-After"}

// CORS answers preflight requests and tags responses with the configured policy.
// A nil config disables it.
func CORS(cfg *config.CORSConfig) Middleware {
	if cfg == nil {
		return passthrough
	}
	policy := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})
	return policy.Handler
}

func passthrough(next http.Handler) http.Handler { return next }
