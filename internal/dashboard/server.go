// Package dashboard serves the position book, strategy matches and margin
// requirements over HTTP.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategy_matcher/internal/broker"
	"github.com/eddiefleurent/strategy_matcher/internal/matcher"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
	"github.com/eddiefleurent/strategy_matcher/internal/orders"
	"github.com/eddiefleurent/strategy_matcher/internal/storage"
	"github.com/eddiefleurent/strategy_matcher/internal/strategy"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP front end of the matcher service.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	manager   *orders.Manager
	storage   storage.Interface
	metrics   http.Handler
	fills     chan<- storage.Fill
	logger    *logrus.Logger
	port      int
	authToken string
}

// Config holds the listener settings.
type Config struct {
	Port      int
	AuthToken string
}

// NewServer creates the server. metrics and fills may be nil; without a fills
// channel asynchronous fill submission is rejected.
func NewServer(
	cfg Config,
	manager *orders.Manager,
	store storage.Interface,
	metrics http.Handler,
	fills chan<- storage.Fill,
	logger *logrus.Logger,
) *Server {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if manager == nil || store == nil {
		panic("dashboard.NewServer: manager and storage must not be nil")
	}

	s := &Server{
		router:    chi.NewRouter(),
		manager:   manager,
		storage:   store,
		metrics:   metrics,
		fills:     fills,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/positions", s.handleGetPositions)
		r.Get("/positions/{id}", s.handleGetPosition)
		r.Get("/fills", s.handleGetFills)
		r.Post("/fills", s.handlePostFill)
		r.Get("/match", s.handleGetMatch)
		r.Post("/match", s.handleRematch)
		r.Get("/summary", s.handleGetSummary)
		r.Get("/margin", s.handleGetMargin)
		r.Get("/strategies", s.handleGetStrategies)
		r.Get("/strategies/{name}", s.handleAssertStrategy)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
		}).Debug("http request")
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"positions": len(s.storage.Positions()),
	}
	if snap := s.manager.Latest(); snap != nil {
		health["last_match"] = snap.Time
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.storage.Positions())
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	position, err := s.storage.Position(id)
	if err != nil {
		if errors.Is(err, storage.ErrUnknownPosition) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.WithError(err).Error("Failed to read position")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, position)
}

func (s *Server) handleGetFills(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.storage.Fills())
}

// fillRequest is the wire form of a fill. Symbol, when set, is an OCC option
// symbol or an equity ticker and takes precedence over the broken-out fields.
type fillRequest struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Underlying string  `json:"underlying"`
	Kind       string  `json:"kind"`
	Right      string  `json:"right"`
	Strike     float64 `json:"strike"`
	Expiration string  `json:"expiration"` // YYYY-MM-DD
	Multiplier int64   `json:"multiplier"`
	Quantity   int64   `json:"quantity"` // signed: + buys, - sells
	Source     string  `json:"source"`
}

func (req fillRequest) toFill() (storage.Fill, error) {
	fill := storage.Fill{ID: req.ID, Delta: req.Quantity, Source: req.Source}
	if fill.Source == "" {
		fill.Source = "api"
	}

	if sym := strings.TrimSpace(req.Symbol); sym != "" {
		if broker.IsOptionSymbol(sym) {
			occ, err := broker.ParseOCCSymbol(sym)
			if err != nil {
				return storage.Fill{}, err
			}
			fill.Contract = models.Position{
				Underlying: occ.Underlying,
				Kind:       models.KindOption,
				Right:      occ.Right,
				Strike:     occ.Strike,
				Expiration: occ.Expiration,
				Multiplier: req.Multiplier,
			}
			return fill, nil
		}
		fill.Contract = models.Position{Underlying: sym, Kind: models.KindEquity, Multiplier: req.Multiplier}
		return fill, nil
	}

	fill.Contract = models.Position{
		Underlying: req.Underlying,
		Kind:       models.InstrumentKind(strings.ToLower(req.Kind)),
		Right:      models.OptionRight(strings.ToLower(req.Right)),
		Strike:     req.Strike,
		Multiplier: req.Multiplier,
	}
	if req.Expiration != "" {
		exp, err := time.Parse("2006-01-02", req.Expiration)
		if err != nil {
			return storage.Fill{}, fmt.Errorf("expiration must be YYYY-MM-DD: %w", err)
		}
		fill.Contract.Expiration = exp
	}
	return fill, nil
}

func (s *Server) handlePostFill(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding fill: %v", err))
		return
	}
	fill, err := req.toFill()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("async") == "true" {
		s.enqueueFill(w, fill)
		return
	}

	snap, err := s.manager.Apply(r.Context(), fill)
	if err != nil {
		if errors.Is(err, storage.ErrEmptyFill) || errors.Is(err, models.ErrInvalidPosition) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.WithError(err).Error("Failed to apply fill")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) enqueueFill(w http.ResponseWriter, fill storage.Fill) {
	if s.fills == nil {
		writeError(w, http.StatusNotImplemented, "asynchronous fills are disabled")
		return
	}
	if fill.ID == "" {
		fill.ID = uuid.New().String()
	}
	select {
	case s.fills <- fill:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"id": fill.ID})
	default:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "fill queue is full")
	}
}

// latest returns the current snapshot, computing one if none exists yet.
func (s *Server) latest(ctx context.Context) (*orders.Snapshot, error) {
	if snap := s.manager.Latest(); snap != nil {
		return snap, nil
	}
	return s.manager.Rematch(ctx)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	snap, err := s.latest(r.Context())
	if err != nil {
		s.matchFailed(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRematch(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.Rematch(r.Context())
	if err != nil {
		s.matchFailed(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := s.latest(r.Context())
	if err != nil {
		s.matchFailed(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot":   snap.ID,
		"strategies": snap.Result.Strategies(),
		"lines":      snap.Result.Summary(),
	})
}

func (s *Server) handleGetMargin(w http.ResponseWriter, r *http.Request) {
	snap, err := s.latest(r.Context())
	if err != nil {
		s.matchFailed(w, err)
		return
	}
	if snap.Margin == nil || snap.Unmatched == nil {
		msg := snap.MarginError
		if msg == "" {
			msg = "margin model not configured"
		}
		writeError(w, http.StatusServiceUnavailable, msg)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot":  snap.ID,
		"matched":   snap.Margin,
		"unmatched": snap.Unmatched,
		"savings":   snap.Unmatched.Total.Sub(snap.Margin.Total),
	})
}

type templateView struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Priority    int      `json:"priority"`
	Legs        []string `json:"legs"`
	Margin      string   `json:"margin"`
	Naked       bool     `json:"naked,omitempty"`
}

func (s *Server) handleGetStrategies(w http.ResponseWriter, _ *http.Request) {
	catalog := s.manager.Catalog()
	views := make([]templateView, 0, catalog.Len())
	catalog.Each(func(t strategy.Template) bool {
		legs := make([]string, 0, len(t.Legs))
		for _, l := range t.Legs {
			legs = append(legs, l.Name)
		}
		views = append(views, templateView{
			Name:        t.Name,
			Description: t.Description,
			Priority:    catalog.Priority(t.Name),
			Legs:        legs,
			Margin:      string(t.Margin),
			Naked:       t.Naked,
		})
		return true
	})
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAssertStrategy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.manager.Catalog().Lookup(name); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown strategy %q", name))
		return
	}

	quantity := int64(1)
	if q := r.URL.Query().Get("quantity"); q != "" {
		n, err := strconv.ParseInt(q, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "quantity must be a positive integer")
			return
		}
		quantity = n
	}

	snap, err := s.latest(r.Context())
	if err != nil {
		s.matchFailed(w, err)
		return
	}

	resp := map[string]interface{}{
		"name":     name,
		"quantity": quantity,
		"present":  true,
	}
	if err := matcher.AssertStrategyIsPresent(snap.Result, name, quantity); err != nil {
		resp["present"] = false
		resp["message"] = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) matchFailed(w http.ResponseWriter, err error) {
	s.logger.WithError(err).Error("Failed to match book")
	writeError(w, http.StatusInternalServerError, "matching failed")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
