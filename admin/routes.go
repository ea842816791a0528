package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes mounts the task-introspection API under /admin using chi.
func RegisterRoutes(mux *http.ServeMux, h *Handlers) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware)

	r.Get("/health", h.handleHealth)
	r.Get("/tasks", h.handleListTasks)
	r.Get("/tasks/{name}", func(w http.ResponseWriter, req *http.Request) {
		h.handleGetTask(w, req, chi.URLParam(req, "name"))
	})

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("admin task-status endpoints enabled at /admin/")
}
