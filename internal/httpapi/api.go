// Package httpapi serves the JSON endpoints: the OAuth connect flow, sync
// and preference management, reports over stored activities and the
// provider's webhook.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joshdurbin/fitnerd/internal/auth"
	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/workers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"
)

// recentLimit is how many activities the user view lists.
const recentLimit = 5

// GrantSaver stores the credential from an authorization code grant.
type GrantSaver interface {
	SaveGrant(ctx context.Context, userID int64, tokens *auth.TokenResponse) error
}

// Observer receives request and webhook metrics.
type Observer interface {
	Request(method, route string, status int, took time.Duration)
	WebhookEvent(objectType, aspectType string, accepted bool)
}

type nopObserver struct{}

func (nopObserver) Request(string, string, int, time.Duration) {}
func (nopObserver) WebhookEvent(string, string, bool)          {}

// Options wires the API to the rest of the service. OAuth, Gatherer and MCP
// are optional; their routes are omitted when nil.
type Options struct {
	DB          *sql.DB
	Queue       *workers.Queue
	OAuth       *oauth2.Config
	Grants      GrantSaver
	VerifyToken string
	Observer    Observer
	Gatherer    prometheus.Gatherer
	MCP         http.Handler
}

type API struct {
	sqlDB       *sql.DB
	queries     *db.Queries
	queue       *workers.Queue
	oauth       *oauth2.Config
	grants      GrantSaver
	verifyToken string
	observer    Observer
	router      chi.Router
}

func New(opts Options) *API {
	a := &API{
		sqlDB:       opts.DB,
		queries:     db.New(opts.DB),
		queue:       opts.Queue,
		oauth:       opts.OAuth,
		grants:      opts.Grants,
		verifyToken: opts.VerifyToken,
		observer:    opts.Observer,
		router:      chi.NewRouter(),
	}
	if a.observer == nil {
		a.observer = nopObserver{}
	}
	a.routes(opts)
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) routes(opts Options) {
	r := a.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(logRequest(a.observer))
	r.Use(chimiddleware.Recoverer)

	if a.oauth != nil {
		r.Get("/connect", a.handleConnect)
		r.Get("/callback", a.handleCallback)
	}

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/", a.handleGetUser)
		r.Post("/sync", a.handleSync)
		r.Delete("/activities", a.handleDeleteActivities)
		r.Post("/units/toggle", a.handleToggleUnits)
		r.Put("/units", a.handleSetUnits)

		r.Get("/summary", a.handleSummary)
		r.Get("/types/{type}/analysis", a.handleAnalysis)
		r.Get("/charts/pie", a.handlePie)
		r.Get("/charts/{type}/{metric}/{span}", a.handleChart)
		r.Get("/search", a.handleSearch)
	})
	r.Get("/jobs/{jobID}", a.handleGetJob)

	r.Get("/webhook", a.handleWebhookChallenge)
	r.Post("/webhook", a.handleWebhookEvent)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.MCP != nil {
		r.Handle("/mcp", opts.MCP)
	}
}
