package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/taskrelay/internal/api"
)

// setupRouter creates and configures the application router with all
// routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	taskHandler := api.NewTaskHandler(app.engine, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", taskHandler.CreateTask)
		r.Delete("/tasks", taskHandler.DequeueTasks)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Get("/tasks/{id}/wait", taskHandler.WaitTask)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		api.RespondWithJSON(w, http.StatusOK, map[string]bool{
			"ok":     true,
			"online": app.monitor.Online(),
		})
	})

	return r
}
