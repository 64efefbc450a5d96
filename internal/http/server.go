package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"ledger/internal/auth"
	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/middleware/security"
	"ledger/internal/middleware/trace"
	"ledger/internal/settings"
	"ledger/internal/store"
)

const readyTimeout = 3 * time.Second

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators of the API. Hub and Sheets are optional.
type Deps struct {
	Ledgers  *ledger.Registry
	Settings *settings.Service
	Auth     *auth.Issuer
	Hub      *Hub
	Sheets   store.Exporter
	Ready    []ReadinessCheck

	RateLimitPerMinute int
	TrustedProxies     []string
	Logger             *log.Logger
	Now                func() time.Time
}

type Server struct {
	http.Server
	deps     Deps
	identity store.IdentityProvider
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	now      func() time.Time

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.Default(log.ComponentHTTP)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		deps:     deps,
		identity: auth.ContextIdentity{},
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: deps.RateLimitPerMinute}),
		detector: security.NewDetector(),
		now:      deps.Now,
	}
	for _, cidr := range deps.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			deps.Logger.WarnContext(context.Background(), "Ignoring trusted proxy",
				"cidr", cidr, log.FieldError, err)
		}
	}
	s.tracer = trace.NewMiddleware(deps.Logger, s.detector.ExtractClientIP)

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("not found").Write(w)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})

	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(deps.Auth.Middleware)

	api.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions", s.handleCreateTransaction).Methods(http.MethodPost)
	api.HandleFunc("/transactions/reload", s.handleReload).Methods(http.MethodPost)
	api.HandleFunc("/transactions/recent", s.handleRecent).Methods(http.MethodGet)
	api.HandleFunc("/transactions/range", s.handleRangeTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions/monthly", s.handleMonthlyTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", s.handleUpdateTransaction).Methods(http.MethodPatch)
	api.HandleFunc("/transactions/{id}", s.handleDeleteTransaction).Methods(http.MethodDelete)

	api.HandleFunc("/stats/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/stats/categories", s.handleCategoryBreakdown).Methods(http.MethodGet)
	api.HandleFunc("/stats/monthly", s.handleMonthOverview).Methods(http.MethodGet)
	api.HandleFunc("/stats/category/{category}", s.handleCategoryTotal).Methods(http.MethodGet)

	api.HandleFunc("/range", s.handleGetRange).Methods(http.MethodGet)
	api.HandleFunc("/range", s.handleSetRange).Methods(http.MethodPut)
	api.HandleFunc("/budgets", s.handleGetBudgets).Methods(http.MethodGet)
	api.HandleFunc("/budgets/{category}", s.handleSetBudget).Methods(http.MethodPut)

	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	api.HandleFunc("/settings/currency", s.handleSetCurrency).Methods(http.MethodPut)

	api.HandleFunc("/export.csv", s.handleExportCSV).Methods(http.MethodGet)
	api.HandleFunc("/export", s.handleExportSheets).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	var h http.Handler = r
	h = s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, please try again later").Write(w)
	})(h)
	h = s.detector.Middleware(h)
	h = security.Headers(security.DefaultHeadersConfig())(h)
	h = s.tracer.Middleware(h)
	s.Handler = h

	return s
}

// Shutdown stops background helpers and drains the server. Safe to call
// more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		if s.deps.Hub != nil {
			s.deps.Hub.Close()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	resp := readyResponse{Status: "ready", Checks: make(map[string]string)}
	status := http.StatusOK
	for _, c := range s.deps.Ready {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			resp.Status = "unavailable"
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed",
				"check", c.Name, log.FieldError, err)
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	NewJSONResponse().Status(status).Data(resp).Write(w)
}

// ledgerFor resolves the caller's ledger, writing the error response when
// that fails.
func (s *Server) ledgerFor(w http.ResponseWriter, r *http.Request) (*ledger.Ledger, string, bool) {
	userID, ok := s.identity.CurrentUserID(r.Context())
	if !ok {
		ErrorResponse(http.StatusUnauthorized, "not signed in").Write(w)
		return nil, "", false
	}
	l, err := s.deps.Ledgers.For(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return nil, "", false
	}
	return l, userID, true
}
