// Package devserver is a self-contained emulation of the HopOn backend: the
// REST surface plus the realtime push endpoint, backed by in-memory state.
// It powers the `hopon dev` command and the integration-style tests.
package devserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/hopon-app/hopon-go/internal/api"
)

type user struct {
	api.User
	passwordHash string
}

type event struct {
	api.Event
	participants map[int64]struct{}
}

// Server holds the emulated backend state.
type Server struct {
	log    *zerolog.Logger
	tokens *tokenIssuer
	engine *gin.Engine
	hub    *hub

	mu            sync.Mutex
	users         map[int64]*user
	usersByEmail  map[string]int64
	events        map[int64]*event
	notifications map[int64][]api.Notification
	messages      []api.Message
	ratings       map[int64][]api.Rating
	follows       map[int64]map[int64]struct{}
	nextID        int64
}

// Option adjusts server construction.
type Option func(*Server)

// WithAccessTTL overrides the access-token lifetime; tests use short TTLs.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) { s.tokens.accessTTL = ttl }
}

// New builds a devserver with empty state and the default sports catalog.
func New(logger *zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		log:           logger,
		tokens:        newTokenIssuer(),
		users:         make(map[int64]*user),
		usersByEmail:  make(map[string]int64),
		events:        make(map[int64]*event),
		notifications: make(map[int64][]api.Notification),
		ratings:       make(map[int64][]api.Rating),
		follows:       make(map[int64]map[int64]struct{}),
	}
	s.hub = newHub(logger)
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), loggerMiddleware(logger))
	s.routes(engine)
	s.engine = engine
	return s
}

// Handler exposes the server for httptest use.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	s.log.Info().Str("addr", addr).Msg("devserver listening")

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}

func (s *Server) routes(engine *gin.Engine) {
	engine.POST("/auth/register", s.handleRegister)
	engine.POST("/auth/login", s.handleLogin)
	engine.POST("/auth/refresh", s.handleRefresh)
	engine.GET("/sports", s.handleSports)
	engine.GET("/ws", s.handleWS)

	authed := engine.Group("/", s.authMiddleware())
	authed.GET("/auth/me", s.handleMe)
	authed.GET("/events", s.handleListEvents)
	authed.POST("/events", s.handleCreateEvent)
	authed.GET("/events/:id", s.handleGetEvent)
	authed.PUT("/events/:id", s.handleUpdateEvent)
	authed.DELETE("/events/:id", s.handleDeleteEvent)
	authed.POST("/events/:id/join", s.handleJoinEvent)
	authed.POST("/events/:id/leave", s.handleLeaveEvent)
	authed.GET("/users/:id", s.handleGetUser)
	authed.PUT("/users/:id", s.handleUpdateUser)
	authed.GET("/users/:id/events", s.handleUserEvents)
	authed.GET("/users/:id/ratings", s.handleUserRatings)
	authed.POST("/ratings", s.handleSubmitRating)
	authed.POST("/follow/:id", s.handleFollow)
	authed.POST("/unfollow/:id", s.handleUnfollow)
	authed.GET("/notifications", s.handleNotifications)
	authed.PUT("/notifications/:id/read", s.handleNotificationRead)
	authed.PUT("/notifications/read-all", s.handleNotificationsReadAll)
	authed.POST("/messages", s.handleSendMessage)
	authed.GET("/messages/:id", s.handleMessages)
}

func (s *Server) allocID() int64 {
	s.nextID++
	return s.nextID
}

// ErrorResponse is the error body every endpoint returns.
type ErrorResponse struct {
	Error string `json:"error"`
}

func loggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func notifTitle(kind string) string {
	switch kind {
	case "player_joined":
		return "New player"
	case "player_left":
		return "Player left"
	case "new_rating":
		return "New rating"
	case "new_follower":
		return "New follower"
	default:
		return "HopOn"
	}
}

func (s *Server) notify(userID int64, kind, message, link string) api.Notification {
	n := api.Notification{
		ID:        s.allocID(),
		Type:      kind,
		Title:     notifTitle(kind),
		Message:   message,
		Link:      link,
		CreatedAt: now(),
	}
	s.notifications[userID] = append(s.notifications[userID], n)
	return n
}

func eventLink(id int64) string {
	return fmt.Sprintf("/events/%d", id)
}
