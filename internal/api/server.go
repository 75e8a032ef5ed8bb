package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/mkadyrov/blastline/internal/config"
	"github.com/mkadyrov/blastline/internal/dispatch"
	"github.com/mkadyrov/blastline/internal/gateway"
	"github.com/mkadyrov/blastline/internal/storage"
)

type Server struct {
	cfg        config.ServerConfig
	store      storage.Storage
	dispatcher *dispatch.Dispatcher
	client     gateway.Client
	router     *chi.Mux
	log        zerolog.Logger
	http       *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, dispatcher *dispatch.Dispatcher, client gateway.Client, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		client:     client,
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	// The dashboard is a separate browser app, usually on another origin
	// in development.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	contactHandler := NewContactHandler(s.store)
	campaignHandler := NewCampaignHandler(s.store, s.dispatcher)
	systemHandler := NewSystemHandler(s.store, s.dispatcher, s.client)

	r.Get("/health", systemHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Contacts
		r.Post("/contacts", contactHandler.Create)
		r.Get("/contacts", contactHandler.List)
		r.Get("/contacts/{id}", contactHandler.Get)
		r.Put("/contacts/{id}", contactHandler.Update)
		r.Delete("/contacts/{id}", contactHandler.Delete)

		// Campaigns
		r.Post("/campaigns", campaignHandler.Create)
		r.Get("/campaigns", campaignHandler.List)
		r.Get("/campaigns/{id}", campaignHandler.Get)
		r.Post("/campaigns/{id}/send", campaignHandler.Send)
		r.Post("/campaigns/{id}/cancel", campaignHandler.Cancel)

		// Live state
		r.Get("/progress", systemHandler.Progress)
		r.Get("/gateway/status", systemHandler.GatewayStatus)
		r.Get("/stats", systemHandler.Stats)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
