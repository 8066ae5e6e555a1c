// Package peer is the listening side of the internet role. It answers the
// select, insert, update, delete and describe envelopes of remote sessions
// with a local session.
package peer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/audit"
	"github.com/ekaya-inc/ekaya-orm/pkg/auth"
	"github.com/ekaya-inc/ekaya-orm/pkg/session"
)

const (
	// RequestIDHeader carries the correlation id of a call.
	RequestIDHeader = "X-Request-ID"

	requestIDKey    = "request_id"
	shutdownTimeout = 10 * time.Second
)

// Options configure a Server.
type Options struct {
	// Secret verifies bearer tokens. Empty accepts unauthenticated calls.
	Secret  string
	Version string
	Logger  *zap.Logger
}

// Server answers remote sessions with a local session.
type Server struct {
	session *session.Session
	auth    *auth.Middleware
	audit   *audit.SecurityAuditor
	version string
	logger  *zap.Logger
	engine  *gin.Engine
}

// New builds a server over s. The session stays owned by the caller.
func New(s *session.Session, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("peer")

	var validator auth.Validator
	if opts.Secret != "" {
		validator = auth.NewHMACValidator(opts.Secret)
	}

	srv := &Server{
		session: s,
		auth:    auth.NewMiddleware(validator, logger),
		audit:   audit.NewSecurityAuditor(logger),
		version: opts.Version,
		logger:  logger,
	}
	srv.engine = srv.routes()
	return srv
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(s.logger))

	r.GET("/health", s.health)
	r.POST("/soap", s.auth.RequireToken(s.rejectUnauthorized), s.soap)
	return r
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully. TLS is used when both certFile and keyFile are set.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Peer server listening",
			zap.String("addr", addr),
			zap.Bool("tls", certFile != ""),
			zap.String("session", s.session.Key()))
		if certFile != "" && keyFile != "" {
			errCh <- httpServer.ListenAndServeTLS(certFile, keyFile)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("Peer server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	}
}

// health handles GET /health.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.version,
		"role":    s.session.Role().String(),
	})
}

// requestID stores the caller's correlation id, or a fresh one, in the
// context and echoes it in the response.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// requestLogger logs every request at debug level.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)),
		)
	}
}
