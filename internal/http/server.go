// Package httpapi exposes the dispatch service over HTTP and WebSocket.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-hail/internal/config"
	"github.com/example/ride-hail/internal/dispatch"
	"github.com/example/ride-hail/internal/eta"
	"github.com/example/ride-hail/internal/feed"
	"github.com/example/ride-hail/internal/geo"
	"github.com/example/ride-hail/internal/ingest"
	"github.com/example/ride-hail/internal/payments"
	"github.com/example/ride-hail/internal/pricing"
	"github.com/example/ride-hail/internal/rides"
	"github.com/example/ride-hail/internal/storage"
)

type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger

	store  storage.Store
	geoIdx geo.Index
	rides  *rides.Service
	kafka  *ingest.KafkaProducer
	wsreg  *dispatch.WSRegistry
	hub    *feed.Hub

	redis *redis.Client // nil when running without Redis
	mux   *mux.Router
}

// New wires the server from config. Redis and Postgres are optional;
// without them the in-memory fallbacks keep a single instance usable.
func New(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger, mux: mux.NewRouter()}

	if cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		s.geoIdx = geo.NewRedisIndex(s.redis, cfg.RedisGeoKey)
	} else {
		s.geoIdx = geo.NewMemoryIndex()
	}

	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		s.store = ps
	} else {
		logger.Warn("no PG_DSN configured, using in-memory store")
		s.store = storage.NewMemoryStore()
	}

	if len(cfg.KafkaBrokers) > 0 {
		s.kafka = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	s.wsreg = dispatch.NewWSRegistry()
	s.hub = feed.NewHub(logger)

	svc := &rides.Service{
		Store:            s.store,
		Geo:              s.geoIdx,
		Notify:           dispatch.NewPushNotifier(cfg.PushEndpoint, cfg.PushKey, s.wsreg),
		Pricing:          pricing.Default(),
		ETACache:         eta.NewCache(cfg.ETACacheTTL),
		DefaultSpeedMps:  cfg.DefaultSpeedMps,
		DispatchRadiusKm: cfg.DispatchRadiusKm,
		DispatchTopN:     cfg.DispatchTopN,
		Currency:         cfg.Currency,
		Logger:           logger,
	}
	if cfg.OSRMEndpoint != "" {
		svc.ETA = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}
	if s.redis != nil {
		svc.Feed = feed.NewRedisPublisher(s.redis)
	}
	if cfg.StripeAPIKey != "" {
		svc.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
	}
	s.rides = svc

	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/drivers", s.handleListDrivers).Methods("GET")
	api.HandleFunc("/drivers/location", s.handleDriverLocation).Methods("POST")
	api.HandleFunc("/drivers/status", s.handleDriverStatus).Methods("POST")
	api.HandleFunc("/rides/request", s.handleRideRequest).Methods("POST")
	api.HandleFunc("/rides/accept", s.handleRideAccept).Methods("POST")
	api.HandleFunc("/rides/status", s.handleRideStatus).Methods("POST")
	api.HandleFunc("/rides/cancel", s.handleRideCancel).Methods("POST")
	api.HandleFunc("/rides/nearby", s.handleNearbyRides).Methods("GET")
	api.HandleFunc("/rides/history", s.handleRideHistory).Methods("GET")

	s.mux.HandleFunc("/ws/rides/{ride_id}", s.handleRideWS)
	s.mux.HandleFunc("/ws/drivers/{driver_id}", s.handleDriverWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// RunBackground starts the ride feed pump: the Redis subscriber when
// Redis is configured, the bounded store poller otherwise. Blocks until
// ctx is cancelled.
func (s *Server) RunBackground(ctx context.Context) {
	if s.redis != nil {
		sub := feed.NewSubscriber(s.redis, s.hub)
		if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("feed subscriber stopped", "error", err)
		}
		return
	}
	poller := feed.NewPoller(s.store, s.hub, s.cfg.FeedPollInterval, s.logger)
	if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("feed poller stopped", "error", err)
	}
}

func (s *Server) Close() error {
	if s.kafka != nil {
		_ = s.kafka.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if c, ok := s.store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
