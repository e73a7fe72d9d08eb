// Package server exposes a highlighted document and its session over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kobzarvs/multifind/internal/bridge"
	"github.com/kobzarvs/multifind/internal/session"
	"github.com/kobzarvs/multifind/internal/store"
)

const maxRequestBody = 1 << 20

// Server serialises every request against one session.
type Server struct {
	mu      sync.Mutex
	session *session.Session
	bridge  *bridge.Bridge
	store   *store.Store
	pageURL string
	logger  *zap.Logger
}

type Option func(*Server)

// WithStore persists keyword changes for the page URL.
func WithStore(st *store.Store) Option {
	return func(s *Server) { s.store = st }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(sess *session.Session, pageURL string, opts ...Option) *Server {
	s := &Server{
		session: sess,
		pageURL: pageURL,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.bridge = bridge.New(sess, s.logger.Named("bridge"))
	return s
}

// Restore re-adds the keywords saved for the page, if any.
func (s *Server) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	page, err := s.store.Load(ctx, s.pageURL)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kw := range page.Keywords {
		if err := s.session.Add(kw); err != nil {
			s.logger.Debug("saved keyword skipped", zap.String("keyword", kw), zap.Error(err))
		}
	}
	if s.session.Active() != page.Active {
		if _, err := s.session.ToggleActive(); err != nil {
			return fmt.Errorf("server: restore active flag: %w", err)
		}
	}
	s.logger.Info("restored saved searches", zap.String("url", s.pageURL), zap.Int("keywords", len(page.Keywords)))
	return nil
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthzHandler)
	r.Post("/api/message", s.messageHandler)
	r.Get("/api/keywords", s.keywordsHandler)
	r.Get("/api/matches", s.matchesHandler)
	r.Get("/document", s.documentHandler)
	return r
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("listening", zap.String("addr", addr), zap.String("url", s.pageURL))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	var req bridge.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	resp := s.bridge.Handle(req)
	if resp.Success && req.Mutates() {
		s.persistLocked(r.Context())
	}
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) keywordsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	searches := s.bridge.Searches()
	active := s.session.Active()
	s.mu.Unlock()

	if searches == nil {
		searches = []bridge.Search{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"active": active, "searches": searches})
}

func (s *Server) matchesHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kw := r.URL.Query().Get("keyword"); kw != "" {
		info, err := s.session.MatchInfo(kw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.writeJSON(w, http.StatusOK, info)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.AllMatchInfo())
}

func (s *Server) documentHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.session.Document().Render(w); err != nil {
		s.logger.Warn("render document", zap.Error(err))
	}
}

func (s *Server) persistLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	keywords := s.session.ListKeywords()
	var err error
	if len(keywords) == 0 {
		err = s.store.Delete(ctx, s.pageURL)
	} else {
		err = s.store.Save(ctx, store.Page{URL: s.pageURL, Keywords: keywords, Active: s.session.Active()})
	}
	if err != nil {
		s.logger.Warn("persist searches", zap.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode JSON response", zap.Error(err))
	}
}
