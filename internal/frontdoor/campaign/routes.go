package campaign

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Route defines an HTTP route registration.
type Route struct {
	Path    string
	Method  string
	Handler func(http.ResponseWriter, *http.Request)
	// RateLimited routes start a pipeline run and go through the per-client
	// limiter.
	RateLimited bool
}

// CreateHandlerRegistrations creates the HTTP handler registrations for the
// campaign API.
func CreateHandlerRegistrations(handler *Handler, basePath string) []Route {
	return []Route{
		{Path: basePath + "/", Method: http.MethodGet, Handler: handler.HandleRoot},
		{Path: basePath + "/health", Method: http.MethodGet, Handler: handler.HandleHealth},
		{Path: basePath + "/generate-campaign", Method: http.MethodPost, Handler: handler.HandleGenerate, RateLimited: true},
		{Path: basePath + "/regenerate-campaign", Method: http.MethodPost, Handler: handler.HandleRegenerate, RateLimited: true},
		{Path: basePath + "/refine-campaign", Method: http.MethodPost, Handler: handler.HandleRefine, RateLimited: true},
		{Path: basePath + "/campaigns", Method: http.MethodGet, Handler: handler.HandleListCampaigns},
		{Path: basePath + "/campaigns/{id}", Method: http.MethodGet, Handler: handler.HandleGetCampaign},
	}
}

// Mount registers routes on r. limit wraps the rate limited routes and may be
// nil.
func Mount(r chi.Router, routes []Route, limit func(http.Handler) http.Handler) {
	for _, rt := range routes {
		var h http.Handler = http.HandlerFunc(rt.Handler)
		if rt.RateLimited && limit != nil {
			h = limit(h)
		}
		r.Method(rt.Method, rt.Path, h)
	}
}
