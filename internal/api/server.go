// Package api serves cached book lists and on-demand detail pages over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/IshaanNene/bookstalk/internal/cache"
	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/observability"
	"github.com/IshaanNene/bookstalk/internal/sites"
	"github.com/IshaanNene/bookstalk/internal/types"
)

// Scraper is the part of the engine the API can fall back to.
type Scraper interface {
	Run(ctx context.Context, site *sites.Site) ([]types.BookRecord, error)
	FetchDetailStrict(ctx context.Context, site *sites.Site, link string) (types.BookDetail, error)
}

// Server exposes the book API.
type Server struct {
	mux      *http.ServeMux
	port     int
	logger   *slog.Logger
	registry *sites.Registry
	cache    cache.Cache

	scraper      Scraper
	liveFallback bool
	metrics      *observability.Metrics

	routes sync.Once
}

// NewServer creates a new API server over registry and c.
func NewServer(port int, registry *sites.Registry, c cache.Cache, logger *slog.Logger) *Server {
	return &Server{
		mux:      http.NewServeMux(),
		port:     port,
		logger:   logger.With("component", "api_server"),
		registry: registry,
		cache:    c,
	}
}

// SetScraper enables the detail route and, with live fallback, scraping a
// site whose cache is cold.
func (s *Server) SetScraper(sc Scraper, liveFallback bool) {
	s.scraper = sc
	s.liveFallback = liveFallback
}

// SetMetrics mounts the Prometheus handler on /metrics.
func (s *Server) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// Handler registers the routes and returns the wrapped mux.
func (s *Server) Handler() http.Handler {
	s.routes.Do(s.registerRoutes)
	return s.withLogging(withCORS(s.mux))
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr, "sites", len(s.registry.List()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("API server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /sites", s.handleSites)

	for _, code := range s.registry.Codes() {
		s.mux.HandleFunc("GET /"+code+"-books", s.handleBooks(code))
		s.mux.HandleFunc("GET /"+code+"-book-detail", s.handleDetail(code))
	}

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"version":   config.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type siteInfo struct {
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	Aliases  []string `json:"aliases,omitempty"`
	Origin   string   `json:"origin"`
	Fetcher  string   `json:"fetcher"`
	MaxStubs int      `json:"maxStubs"`
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	out := make([]siteInfo, len(list))
	for i, site := range list {
		out[i] = siteInfo{
			Code:     site.Code,
			Name:     site.Name,
			Aliases:  site.Aliases,
			Origin:   site.Origin,
			Fetcher:  site.Fetcher,
			MaxStubs: site.MaxStubs,
		}
	}
	s.jsonResponse(w, http.StatusOK, out)
}

// handleBooks serves the cached list. A cold cache answers an empty list
// unless live fallback is on, in which case the site is scraped now.
func (s *Server) handleBooks(code string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site, err := s.registry.Lookup(code)
		if err != nil {
			s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}

		books := s.cache.Books(r.Context(), site.Code)
		if len(books) > 0 || !s.liveFallback || s.scraper == nil {
			s.jsonResponse(w, http.StatusOK, map[string]any{"books": books})
			return
		}

		s.logger.Info("cache cold, scraping live", "site", site.Code)
		books, err = s.scraper.Run(r.Context(), site)
		if err != nil {
			s.logger.Error("live scrape failed", "site", site.Code, "error", err)
			s.jsonResponse(w, http.StatusInternalServerError, map[string]string{
				"error":   strings.ToUpper(site.Code) + " data load failed",
				"message": err.Error(),
			})
			return
		}
		if p, ok := s.cache.(interface {
			Put(string, []types.BookRecord)
		}); ok && len(books) > 0 {
			p.Put(site.Code, books)
		}
		s.jsonResponse(w, http.StatusOK, map[string]any{"books": books})
	}
}

// handleDetail scrapes one detail page. The page is read with the rules of
// the site its host belongs to, which need not be code's own site.
func (s *Server) handleDetail(code string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link := strings.TrimSpace(r.URL.Query().Get("url"))
		if link == "" {
			s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
			return
		}
		if err := config.ValidateURL(link); err != nil {
			s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if s.scraper == nil {
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "scraper not available"})
			return
		}

		site, err := s.detailSite(code, link)
		if err != nil {
			s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}

		detail, err := s.scraper.FetchDetailStrict(r.Context(), site, link)
		if err != nil {
			s.logger.Error("detail scrape failed", "site", site.Code, "url", link, "error", err)
			s.jsonResponse(w, http.StatusInternalServerError, map[string]string{
				"error":   "failed to load book detail",
				"message": err.Error(),
			})
			return
		}
		s.jsonResponse(w, http.StatusOK, detail)
	}
}

func (s *Server) detailSite(code, link string) (*sites.Site, error) {
	site, err := s.registry.Lookup(code)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(link)
	if err != nil || sameHost(site.Origin, u.Hostname()) {
		return site, nil
	}
	for _, other := range s.registry.List() {
		if sameHost(other.Origin, u.Hostname()) {
			return other, nil
		}
	}
	return site, nil
}

func sameHost(origin, host string) bool {
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	trim := func(h string) string { return strings.TrimPrefix(strings.ToLower(h), "www.") }
	return trim(o.Hostname()) == trim(host)
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}
