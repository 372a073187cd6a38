package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/americaro/quotemail/pkg/apiresponses"
	"github.com/americaro/quotemail/pkg/config"
	"github.com/americaro/quotemail/pkg/metrics"
	"github.com/americaro/quotemail/pkg/ratelimit"
	"github.com/americaro/quotemail/pkg/system"
)

const readHeaderTimeout = 10 * time.Second

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

// ReadyFunc reports whether the server can accept send requests.
type ReadyFunc func() bool

type Server struct {
	gin         *gin.Engine
	config      config.Config
	log         *zap.SugaredLogger
	ready       ReadyFunc
	sendLimiter *ratelimit.ClientLimiter
	http        *http.Server
}

func NewServer(log *zap.Logger, cfg config.Config, debug bool, ready ReadyFunc) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if ready == nil {
		ready = func() bool { return true }
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		system.RequestLogger(log.Sugar()),
	)

	if len(cfg.Server.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			log.Sugar().Warnw("Ignoring invalid trusted proxies", "proxies", cfg.Server.TrustedProxies, "error", err)
			_ = engine.SetTrustedProxies(nil)
		}
	} else {
		_ = engine.SetTrustedProxies(nil)
	}

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = config.DefaultAllowedOrigins
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "X-Requested-With", system.RequestIDHeader},
		ExposeHeaders:    []string{system.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		gin:         engine,
		config:      cfg,
		log:         log.Sugar().Named("api"),
		ready:       ready,
		sendLimiter: ratelimit.NewClientLimiter(ratelimit.SendLimits(cfg.RateLimit)),
	}
	s.http = &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	engine.GET("healthz", s.healthz)
	engine.GET("readyz", s.readyz)
	engine.GET("version", s.version)
	engine.GET("metrics", gin.WrapH(metrics.MetricsHandler()))

	return s
}

// RegisterAll mounts the controllers behind the per-IP send limiter.
func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("/", s.sendLimiter.Middleware())
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return fmt.Errorf("register controller at %q: %w", c.BasePath(), err)
		}
	}
	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until Shutdown is called. It returns nil after a graceful shutdown.
func (s *Server) Listen() error {
	s.log.Infow("Listening", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.Close()
	return s.http.Shutdown(ctx)
}

// Close releases background resources. It is safe to call more than once.
func (s *Server) Close() {
	if s.sendLimiter != nil {
		s.sendLimiter.Stop()
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	if !s.ready() {
		apiresponses.RespondServiceUnavailable(c, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) version(c *gin.Context) {
	c.JSON(http.StatusOK, system.GetBuildInfo())
}
