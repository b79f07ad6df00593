// Package dashboard serves the risk engine over a small JSON API.
// Every risk endpoint triggers one synchronous valuation pass; there is
// no background refresh and no cross-request cache.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/looptrader/riskengine/internal/ledger"
	"github.com/looptrader/riskengine/internal/risk"
)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	ledger    ledger.Interface
	service   *risk.Service
	logger    *logrus.Logger
	port      int
	authToken string
}

type Config struct {
	Port      int
	AuthToken string
}

func NewServer(cfg Config, ledger ledger.Interface, service *risk.Service, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		ledger:    ledger,
		service:   service,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/api/risk", s.handleGetRisk)
	s.router.Get("/api/valuations", s.handleGetValuations)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/position/{id}", s.handleGetPosition)
	s.router.Get("/health", s.handleHealth)
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

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	s.logger.Infof("Starting risk dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// accountParam parses the optional ?account= query parameter.
// Returns 0 when absent.
func accountParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("account")
	if raw == "" {
		return 0, nil
	}
	accountID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid account id %q: %w", raw, err)
	}
	return accountID, nil
}

// runPass executes one valuation pass, scoped to one account when
// accountID is non-zero.
func (s *Server) runPass(ctx context.Context, accountID int64) (*risk.Snapshot, error) {
	if accountID != 0 {
		return s.service.RunForAccount(ctx, accountID)
	}
	return s.service.Run(ctx)
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountParam(r)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	snapshot, err := s.runPass(r.Context(), accountID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to run valuation pass")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, s.logger, snapshot.Portfolio)
}

func (s *Server) handleGetValuations(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountParam(r)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	snapshot, err := s.runPass(r.Context(), accountID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to run valuation pass")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, s.logger, snapshot.Valuations)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.ledger.GetActivePositions(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to load active positions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, s.logger, positions)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	position, err := s.ledger.GetPositionByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrPositionNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("Failed to load position")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, s.logger, position)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	writeJSON(w, s.logger, health)
}

func writeJSON(w http.ResponseWriter, logger *logrus.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("Failed to encode response")
	}
}
