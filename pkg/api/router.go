package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/greenbuild/autoload/pkg/autoload"
	"github.com/greenbuild/autoload/pkg/jobs"
	"github.com/greenbuild/autoload/pkg/tenancy"
)

// NewRouter mounts the API under BasePath.
func NewRouter(app *autoload.App, cfg *Config, logger *slog.Logger) chi.Router {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		service: app.Service,
		records: app.Records,
		tracker: app.Tracker,
		cfg:     cfg,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", tenancy.OrganizationHeader, tenancy.UserHeader},
			MaxAge:         300,
		}))
	}

	r.Route(BasePath, func(r chi.Router) {
		if cfg.Resolver != nil {
			r.Use(tenancy.Middleware(cfg.Resolver))
		} else {
			r.Use(tenancy.NewMiddleware(cfg.TenancyMode))
		}

		r.Get("/cycles", h.listCycles)
		r.Post("/cycles", h.createCycle)
		r.Get("/assessment-types", h.listAssessmentTypes)
		r.Post("/assessment-types", h.createAssessmentType)

		r.Post("/imports", h.createImport)
		r.Get("/imports/{fileId}", h.getImport)
		r.Get("/progress/{key}", h.getProgress)

		r.Get("/assessments", h.listAssessments)
		r.Post("/assessments", h.upsertAssessment)
		r.Get("/assessments/{propertyId}/history", h.history)
		r.Post("/assessments/{propertyId}/urls", h.attachURLs)
		r.Post("/assessments/{propertyId}:export", h.export)

		r.Mount("/tasks", jobs.Router(app.Tasks, app.Executor))
	})
	return r
}
