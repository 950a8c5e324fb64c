package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/2beens/lxcgate/internal/account"
	"github.com/2beens/lxcgate/internal/auth"
	"github.com/2beens/lxcgate/internal/config"
	"github.com/2beens/lxcgate/internal/lxc"
	"github.com/2beens/lxcgate/internal/middleware"
	"github.com/2beens/lxcgate/internal/notify"
	"github.com/2beens/lxcgate/internal/proxmox"
	"github.com/2beens/lxcgate/internal/telemetry/metrics"
	"github.com/2beens/lxcgate/internal/telemetry/tracing"
	"github.com/2beens/lxcgate/internal/users"
	"github.com/2beens/lxcgate/pkg"
)

const serviceName = "lxcgate"

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config        *config.Config
	redisClient   *redis.Client
	usersStore    users.Store
	authService   *auth.Service
	proxmoxClient *proxmox.Client
	notifier      notify.Notifier

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	JWTSecret               []byte
	ProxmoxAPIToken         string
	DiscordWebhookURL       string
	RedisPassword           string
	HoneycombTracingEnabled bool
	VersionInfo             string
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	promRegistry := metrics.SetupPrometheus()
	metricsManager := metrics.NewManager(serviceName, "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0) // set to 1 once serving

	var rdb *redis.Client
	var usersStore users.Store
	switch cfg.UsersStore {
	case config.UsersStoreRedis:
		rdb = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: params.RedisPassword,
			DB:       0, // use default DB
		})
		rdbStatus := rdb.Ping(ctx)
		if err := rdbStatus.Err(); err != nil {
			log.Errorf("--> failed to ping redis: %s", err)
		} else {
			log.Debugf("redis ping: %s", rdbStatus.Val())
		}
		usersStore = users.NewRedisStore(rdb, cfg.UsersRedisKey)
		log.Infof("using redis credentials store, key: %s", cfg.UsersRedisKey)
	default:
		usersStore = users.NewFileStore(cfg.UsersFilePath)
		log.Infof("using file credentials store: %s", cfg.UsersFilePath)
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, serviceName, rdb)
	if err != nil {
		return nil, err
	}

	authService, err := auth.NewService(usersStore, params.JWTSecret, cfg.TokenTTL.Duration, cfg.BcryptCost)
	if err != nil {
		otelShutdown()
		return nil, fmt.Errorf("new auth service: %w", err)
	}

	proxmoxClient, err := proxmox.NewClient(proxmox.NewClientParams{
		BaseURL:        cfg.ProxmoxBaseURL,
		Node:           cfg.ProxmoxNode,
		APIToken:       params.ProxmoxAPIToken,
		HTTPClient:     proxmox.NewHTTPClient(cfg.ProxmoxTimeout.Duration, cfg.ProxmoxInsecureTLS),
		CacheTTLSec:    cfg.ProxmoxCacheTTLSec,
		MetricsManager: metricsManager,
	})
	if err != nil {
		otelShutdown()
		return nil, fmt.Errorf("new proxmox client: %w", err)
	}

	var notifier notify.Notifier = notify.Noop{}
	if params.DiscordWebhookURL != "" {
		notifier = notify.NewDiscord(
			params.DiscordWebhookURL,
			cfg.NotifyQueueSize,
			&http.Client{
				Timeout:   cfg.NotifyTimeout.Duration,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			metricsManager,
		)
	} else {
		log.Warnln("discord webhook url not set, notifications disabled")
	}

	return &Server{
		config:      cfg,
		versionInfo: params.VersionInfo,

		redisClient:   rdb,
		usersStore:    usersStore,
		authService:   authService,
		proxmoxClient: proxmoxClient,
		notifier:      notifier,

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("main-router"))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pkg.WriteJSONError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pkg.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.HandleFunc("/", s.handleRoot).Methods("GET", "OPTIONS").Name("root")

	accessGuard := middleware.NewAccessGuard(s.authService)
	protectedRouter := r.NewRoute().Subrouter()
	protectedRouter.Use(accessGuard.Guard())

	accountHandler := account.NewHandler(s.authService, s.config.SecureCookie, s.metricsManager)
	accountHandler.SetupRoutes(r, protectedRouter)

	lxcHandler := lxc.NewHandler(s.proxmoxClient, s.notifier)
	lxcHandler.SetupRoutes(protectedRouter)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.AllowedOrigins))
	r.Use(middleware.LimitAndDrainBody(middleware.DefaultMaxBodyBytes))

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	msg := "lxcgate"
	if s.versionInfo != "" {
		msg += " " + s.versionInfo
	}
	pkg.WriteTextResponseOK(w, msg)
}

func (s *Server) Serve(host string, port int) {
	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:           router,
		Addr:              ipAndPort,
		WriteTimeout:      time.Minute,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		ConnState:         s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	// stop taking requests first, so no new notifications get queued
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Errorf(" >>> failed to gracefully shutdown http server: %s", err)
		}
		log.Warnln("server shut down")
	}

	if err := s.notifier.Close(ctx); err != nil {
		log.Errorf("failed to drain notifications: %s", err)
	}
	log.Trace("notifier closed ...")

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Errorf(" >>> failed to gracefully shutdown metrics http server: %s", err)
		}
		log.Warnln("metrics server shut down")
	}
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
