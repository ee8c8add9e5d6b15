package http

import (
	"net/http"
	"time"

	"github.com/Craverse/craveverse/internal/auth"
	"github.com/Craverse/craveverse/internal/catalog"
	"github.com/Craverse/craveverse/internal/economy"
	"github.com/Craverse/craveverse/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type API struct {
	Engine  *economy.Engine
	Catalog *catalog.Service
	Auth    *auth.Manager
	Limiter *RateLimiter
	Log     logrus.FieldLogger
	Origins []string
}

func (a *API) logger() logrus.FieldLogger {
	if a.Log == nil {
		return logrus.StandardLogger()
	}
	return a.Log
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.InstrumentHandler)
	r.Use(a.loggingMiddleware)
	r.Use(a.corsMiddleware)

	r.Get("/health", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.authMiddleware)
		r.Use(a.rateLimitMiddleware)

		r.Route("/shop", func(r chi.Router) {
			r.Get("/items", a.handleListItems)
			r.Post("/purchase", a.handlePurchase)
			r.Get("/purchases", a.handlePurchaseHistory)
		})
		r.Route("/rewards", func(r chi.Router) {
			r.Get("/inventory", a.handleInventory)
			r.Post("/pause-token/activate", a.handleActivatePause)
			r.Get("/pause-token/active", a.handleActivePause)
			r.Post("/level-skip/use", a.handleUseLevelSkip)
			r.Get("/themes", a.handleListThemes)
			r.Post("/theme/apply", a.handleApplyTheme)
		})
		r.Post("/levels/complete", a.handleCompleteLevel)
		r.Get("/user/settings", a.handleGetSettings)
	})

	return r
}
