package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arch-studio/engine/internal/api/handlers"
	mw "github.com/arch-studio/engine/internal/api/middleware"
)

type Dependencies struct {
	HMACSecret      []byte
	CORSOrigins     string
	Limiter         *mw.Limiter
	HealthHandler   *handlers.HealthHandler
	ProjectsHandler *handlers.ProjectsHandler
	ScenesHandler   *handlers.ScenesHandler
	RunsHandler     *handlers.RunsHandler
	EventsHandler   *handlers.EventsHandler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	// Built-in middleware
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS(dep.CORSOrigins))
	r.Use(chimid.Compress(5))

	// Health endpoints
	r.Get("/healthz", dep.HealthHandler.Liveness)
	r.Get("/readyz", dep.HealthHandler.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(protected chi.Router) {
			protected.Use(mw.Auth(dep.HMACSecret))
			protected.Use(dep.Limiter.Handler)

			// Projects and their scene history
			protected.Route("/projects", func(pr chi.Router) {
				pr.Get("/", dep.ProjectsHandler.List)
				pr.Post("/", dep.ProjectsHandler.Create)
				pr.Get("/{id}", dep.ProjectsHandler.Get)
				pr.Put("/{id}", dep.ProjectsHandler.Update)
				pr.Delete("/{id}", dep.ProjectsHandler.Delete)

				pr.Get("/{id}/scene", dep.ScenesHandler.Latest)
				pr.Get("/{id}/scene/versions", dep.ScenesHandler.Versions)
				pr.Get("/{id}/scene/versions/{version}", dep.ScenesHandler.Version)

				pr.Post("/{id}/runs", dep.RunsHandler.Start)
			})

			// Runs
			protected.Route("/runs/{runID}", func(rr chi.Router) {
				rr.Get("/", dep.RunsHandler.Get)
				rr.Get("/messages", dep.RunsHandler.Messages)
				rr.Post("/step", dep.RunsHandler.Step)
				rr.Post("/approve", dep.RunsHandler.Approve)
				rr.Post("/pause", dep.RunsHandler.Pause)
				rr.Post("/resume", dep.RunsHandler.Resume)
				rr.Get("/events", dep.EventsHandler.Stream)
				rr.Get("/ws", dep.EventsHandler.Socket)
			})
		})
	})

	return r
}
