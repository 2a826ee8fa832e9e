// Package httpapi exposes the signing workflow over HTTP: technician
// endpoints under /api and the customer-facing signing page under /sign.
package httpapi

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/input"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/output"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/embed"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/metrics"
)

// DefaultMaxBodyBytes bounds request bodies when Options leaves it unset
const DefaultMaxBodyBytes = 2 << 20

// ReportValidator checks a report before a link is issued for it
type ReportValidator interface {
	Validate(report intervention.ReportFields) error
}

// Options wires the server to the application layer
type Options struct {
	Issuer    input.IssueUseCase
	Validator ReportValidator // optional
	Signing   input.SigningUseCase
	Query     input.InterventionQuery
	QR        output.QRRenderer
	Auth      *Authenticator

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // serves /metrics when set
	Logger   app.Logger

	StoreName   string
	HealthProbe app.Probe // optional store check behind /health

	MaxBodyBytes int64
}

// Server holds the handlers' dependencies
type Server struct {
	issuer    input.IssueUseCase
	validator ReportValidator
	signing   input.SigningUseCase
	query     input.InterventionQuery
	qr        output.QRRenderer
	auth      *Authenticator
	metrics   *metrics.Metrics
	logger    app.Logger
	page      *template.Template
	maxBody   int64
	gatherer  prometheus.Gatherer
	store     string
	probe     app.Probe
}

// NewServer validates opts and parses the signing page template
func NewServer(opts Options) (*Server, error) {
	if opts.Issuer == nil || opts.Signing == nil || opts.Query == nil {
		return nil, fmt.Errorf("httpapi: issuer, signing and query use cases are required")
	}
	page, err := template.New("sign").Parse(embed.SignPageTemplate())
	if err != nil {
		return nil, fmt.Errorf("httpapi: parse signing page: %w", err)
	}
	auth := opts.Auth
	if auth == nil {
		auth = NewAuthenticator("")
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Server{
		issuer:    opts.Issuer,
		validator: opts.Validator,
		signing:   opts.Signing,
		query:     opts.Query,
		qr:        opts.QR,
		auth:      auth,
		metrics:   opts.Metrics,
		logger:    app.OrDefault(opts.Logger),
		page:      page,
		maxBody:   maxBody,
		gatherer:  opts.Gatherer,
		store:     opts.StoreName,
		probe:     opts.HealthProbe,
	}, nil
}

// Routes builds the chi router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Route("/api", func(api chi.Router) {
			api.Use(requireTechnician)
			api.Post("/interventions", s.handleIssue)
			api.Get("/interventions/{id}/signature", s.handleSignatureStatus)
			api.Get("/interventions/{id}/qr.png", s.handleQR)
			api.Get("/repairs/{repairId}/intervention", s.handleLatestForRepair)
		})

		r.Get("/sign/{token}", s.handleSigningPage)
		r.Post("/sign/{token}", s.handleSubmit)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := app.CheckHealth(r.Context(), s.store, s.probe, time.Now())
	status := http.StatusOK
	if !h.OK {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, h)
}

// NewRouter is NewServer followed by Routes
func NewRouter(opts Options) (http.Handler, error) {
	s, err := NewServer(opts)
	if err != nil {
		return nil, err
	}
	return s.Routes(), nil
}
