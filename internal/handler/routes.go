package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// RouterOptions configures the webhook router.
type RouterOptions struct {
	APIKey    string
	RateLimit float64
	RateBurst int
	Voice     *VoiceHandler
	// Tools is optional; without it the tool routes are not mounted.
	Tools *ToolHandler
}

// NewRouter builds the webhook server. Everything under /voice except the
// health check needs the bearer key, including paths that do not exist.
func NewRouter(opts RouterOptions) http.Handler {
	router := mux.NewRouter()
	auth := APIKeyMiddleware(opts.APIKey)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/voice/") {
			auth(notFound).ServeHTTP(w, r)
			return
		}
		notFound(w, r)
	})
	router.MethodNotAllowedHandler = router.NotFoundHandler

	router.HandleFunc("/voice/health", opts.Voice.HandleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/voice").Subrouter()
	api.Use(auth, RateLimitMiddleware(opts.RateLimit, opts.RateBurst), BodyLimitMiddleware(MaxBodyBytes))
	api.HandleFunc("/query", opts.Voice.HandleQuery).Methods(http.MethodPost)
	api.HandleFunc("/end-session", opts.Voice.HandleEndSession).Methods(http.MethodPost)

	if opts.Tools != nil {
		api.HandleFunc("/tools/link-identity", opts.Tools.HandleLinkIdentity).Methods(http.MethodPost)
		api.HandleFunc("/tools/place-call", opts.Tools.HandlePlaceCall).Methods(http.MethodPost)
	}

	return RequestIDMiddleware(LoggingMiddleware(router))
}
