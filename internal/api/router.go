package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/postvault/internal/postservice"
)

// NewRouter builds the /api subtree. Cover images are public so that <img>
// tags work without credentials; everything else sits behind
// AuthMiddleware. sseHandler, when non-nil, serves GET /events.
func NewRouter(svc *postservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	jsonBody := middleware.AllowContentType("application/json")

	r := chi.NewRouter()
	r.Get("/covers/*", h.ServeCover)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		r.Route("/posts", func(r chi.Router) {
			r.Get("/", h.ListPosts)
			r.With(jsonBody).Post("/", h.CreatePost)
			r.Get("/*", h.GetPost)
			r.With(jsonBody).Put("/*", h.UpdatePost)
			r.Delete("/*", h.DeletePost)
		})

		r.With(jsonBody).Post("/validate", h.Validate)
		r.Get("/search", h.Search)
		r.Get("/tags", h.Tags)

		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})
	return r
}
