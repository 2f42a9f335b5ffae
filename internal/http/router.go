package http

import (
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/mapfederate/procgate/internal/auth"
	"github.com/mapfederate/procgate/internal/http/handlers"
	"github.com/mapfederate/procgate/internal/http/middlewares"
	"github.com/mapfederate/procgate/internal/jobs"
	"github.com/mapfederate/procgate/internal/observability"
	"github.com/mapfederate/procgate/internal/processes"
)

const maxRequestBody = 10 << 20

type Deps struct {
	Log         *slog.Logger
	Prom        *observability.Prom
	Registry    *prometheus.Registry
	Verifier    *auth.Verifier
	Processes   *processes.Manager
	Jobs        *jobs.Manager
	Prefix      string
	CORSOrigins []string
	Ping        func() error
}

func NewRouter(d Deps) *gin.Engine {
	cfgEnv := os.Getenv("APP_ENV")

	if cfgEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("procgate"))

	if len(d.CORSOrigins) > 0 {
		r.Use(middlewares.CORSMiddleware(d.CORSOrigins))
	}

	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.MaxBodyBytes(maxRequestBody))
	r.Use(middlewares.RequireJSON())
	r.Use(middlewares.Auth(d.Verifier))

	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	// health + metrics

	h := handlers.NewHealthHandler(d.Ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	// API surface

	root := r.Group(d.Prefix)

	processesHandler := handlers.NewProcessesHandler(d.Processes)
	jobsHandler := handlers.NewJobsHandler(d.Jobs)

	root.GET("/processes", processesHandler.List)
	root.GET("/processes/:id", processesHandler.Get)
	root.POST("/processes/:id/execution", processesHandler.Execute)

	root.GET("/jobs", jobsHandler.List)
	root.GET("/jobs/:id", jobsHandler.Get)
	root.GET("/jobs/:id/results", jobsHandler.Results)
	root.GET("/jobs/:id/inputs", jobsHandler.Inputs)
	root.GET("/jobs/:id/history", jobsHandler.History)
	root.POST("/jobs/:id/comments", jobsHandler.AddComment)
	root.GET("/jobs/:id/comments", jobsHandler.ListComments)
	root.POST("/jobs/:id/share", jobsHandler.Share)

	root.POST("/ensembles", jobsHandler.CreateEnsemble)
	root.GET("/ensembles", jobsHandler.ListEnsembles)
	root.GET("/ensembles/:id", jobsHandler.GetEnsemble)
	root.POST("/ensembles/:id/jobs", jobsHandler.AddEnsembleJob)

	return r
}
