package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"chatgraph/interfaces/http/rest/handlers"
	"chatgraph/interfaces/http/rest/middleware"
	"chatgraph/pkg/common"
	pkgerrors "chatgraph/pkg/errors"
	"chatgraph/pkg/observability"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig holds the transport options
type RouterConfig struct {
	EnableCORS     bool
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Router creates and configures the HTTP router
type Router struct {
	chats         *handlers.ChatHandler
	conversations *handlers.ConversationHandler
	authenticator *middleware.Authenticator
	errors        *pkgerrors.ErrorHandler
	collector     *observability.Collector
	readiness     Pinger
	cfg           RouterConfig
	logger        *zap.Logger
}

// NewRouter creates a new router instance. collector may be nil, which
// disables /metrics.
func NewRouter(
	chats *handlers.ChatHandler,
	conversations *handlers.ConversationHandler,
	authenticator *middleware.Authenticator,
	errHandler *pkgerrors.ErrorHandler,
	collector *observability.Collector,
	readiness Pinger,
	cfg RouterConfig,
	logger *zap.Logger,
) *Router {
	return &Router{
		chats:         chats,
		conversations: conversations,
		authenticator: authenticator,
		errors:        errHandler,
		collector:     collector,
		readiness:     readiness,
		cfg:           cfg,
		logger:        logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(rt.errors.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.collector != nil {
		router.Use(rt.collector.Middleware)
	}
	router.Use(versionMiddleware)
	if rt.cfg.RequestTimeout > 0 {
		router.Use(chimiddleware.Timeout(rt.cfg.RequestTimeout))
	}

	if rt.cfg.EnableCORS {
		origins := rt.cfg.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.collector != nil {
		router.Handle("/metrics", rt.collector.Handler())
	}

	router.Route("/api/v2", func(r chi.Router) {
		r.Use(rt.authenticator.Middleware)

		r.Route("/chats", func(r chi.Router) {
			r.Post("/", rt.chats.CreateChat)
			r.Get("/", rt.chats.ListChats)

			r.Route("/{chatID}", func(r chi.Router) {
				r.Get("/", rt.chats.GetChat)
				r.Patch("/", rt.chats.RenameChat)
				r.Delete("/", rt.chats.DeleteChat)
				r.Post("/archive", rt.chats.ArchiveChat)
				r.Post("/activate", rt.chats.ActivateChat)

				r.Get("/graph", rt.conversations.GetGraph)
				r.Get("/heads", rt.conversations.GetHeads)
				r.Get("/ancestor-chain", rt.conversations.GetAncestorChain)
				r.Get("/siblings", rt.conversations.GetSiblings)
				r.Get("/compare", rt.conversations.CompareBranches)
				r.Get("/edits", rt.conversations.ListEdits)

				r.Get("/branches", rt.conversations.ListBranches)
				r.Put("/branches/{branchID}", rt.conversations.RetargetBranch)

				r.Get("/messages", rt.conversations.ListMessages)
				r.Post("/messages", rt.conversations.AppendMessage)
				r.Post("/messages/{messageID}/edit", rt.conversations.EditMessage)
			})
		})

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", rt.chats.CreateProject)
			r.Get("/", rt.chats.ListProjects)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", rt.chats.GetProject)
				r.Patch("/", rt.chats.RenameProject)
				r.Delete("/", rt.chats.DeleteProject)
				r.Get("/chats", rt.chats.ListProjectChats)
				r.Post("/chats", rt.chats.CreateProjectChat)
			})
		})
	})

	return router
}

// healthCheck handles liveness requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	common.RespondJSON(w, rt.logger, http.StatusOK, map[string]string{"status": "healthy"})
}

// readinessCheck reports ready only when the store answers
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	if rt.readiness != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := rt.readiness.Ping(ctx); err != nil {
			rt.logger.Warn("Readiness check failed", zap.Error(err))
			common.RespondJSON(w, rt.logger, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": "store unavailable",
			})
			return
		}
	}
	common.RespondJSON(w, rt.logger, http.StatusOK, map[string]string{"status": "ready"})
}

// versionMiddleware adds API version headers to all responses
func versionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-API-Version", "v2")
		next.ServeHTTP(w, r)
	})
}
