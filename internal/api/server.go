package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/voxreach/call-engine/internal/config"
	"github.com/voxreach/call-engine/internal/database"
	"github.com/voxreach/call-engine/internal/jobstore"
	"github.com/voxreach/call-engine/internal/metrics"
	"github.com/voxreach/call-engine/internal/scheduler"
	"github.com/voxreach/call-engine/internal/telephony"
)

type Server struct {
	http   *http.Server
	log    zerolog.Logger
	health *HealthHandler
}

// MediaStreamHandler is the Media Bridge's WebSocket upgrade endpoint, as
// seen by the API layer.
type MediaStreamHandler interface {
	HandleMediaStream(w http.ResponseWriter, r *http.Request)
	Count() int
}

type ServerOptions struct {
	Config    *config.Config
	DB        *database.DB
	Store     jobstore.Store
	Scheduler *scheduler.Scheduler
	Webhooks  *telephony.WebhookHandler
	Answer    http.Handler // renders the provider's answer XML (§4.3)
	Bridge    MediaStreamHandler
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	r := chi.NewRouter()

	var corsOrigins []string
	if opts.Config.CORSOrigins != "" {
		for _, o := range strings.Split(opts.Config.CORSOrigins, ",") {
			if s := strings.TrimSpace(o); s != "" {
				corsOrigins = append(corsOrigins, s)
			}
		}
	}

	r.Use(RequestID)
	r.Use(CORSWithOrigins(corsOrigins))
	r.Use(RateLimiter(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst))
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))

	// Unauthenticated endpoints
	health := NewHealthHandler(opts.DB, opts.Store, opts.Bridge, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)

	if opts.Config.MetricsEnabled {
		collector := metrics.NewCollector(opts.DB.Pool, opts.Store, "calls", opts.Bridge)
		prometheus.MustRegister(collector)
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}

	// Provider webhooks — unauthenticated (providers sign/verify their own
	// way, per §4.3); every handler responds 200 regardless of outcome.
	r.Post("/webhooks/status", opts.Webhooks.HandleStatusWebhook)
	r.Post("/webhooks/recording", opts.Webhooks.HandleRecordingWebhook)
	r.Get("/answer", opts.Answer.ServeHTTP)
	r.Post("/answer", opts.Answer.ServeHTTP)

	// Media Bridge WebSocket upgrade — long-lived per call, excluded from
	// ResponseTimeout and the JSON body-size limit.
	r.Get("/media-stream", opts.Bridge.HandleMediaStream)

	// Authenticated admin routes (scheduling, job inspection)
	r.Group(func(r chi.Router) {
		r.Use(MaxBodySize(1 << 20)) // 1 MB, admin payloads are small JSON
		if opts.Config.MetricsEnabled {
			r.Use(metrics.InstrumentHandler)
		}
		r.Use(BearerAuth(opts.Config.AuthToken, opts.Config.WriteToken))
		r.Use(WriteAuth(opts.Config.WriteToken))
		r.Use(ResponseTimeout(opts.Config.WriteTimeout))

		r.Route("/api/v1/admin", func(r chi.Router) {
			NewAdminHandler(opts.Scheduler, opts.Log).Routes(r)
		})
	})

	srv := &http.Server{
		Addr:        opts.Config.HTTPAddr,
		Handler:     r,
		ReadTimeout: opts.Config.ReadTimeout,
		IdleTimeout: opts.Config.IdleTimeout,
		// WriteTimeout set to 0 so the media-stream WebSocket can stay open
		// for the lifetime of a call; ResponseTimeout enforces deadlines on
		// the ordinary JSON handlers instead.
		WriteTimeout: 0,
	}

	return &Server{
		http:   srv,
		log:    opts.Log,
		health: health,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
