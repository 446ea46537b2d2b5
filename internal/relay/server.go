package relay

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
)

// Server is the relay daemon: a websocket signaling endpoint per session
// plus a small HTTP surface for health and session inspection.
type Server struct {
	cfg    config.Relay
	hub    *Hub
	store  *Store
	http   *http.Server
	logger *logrus.Entry
}

// NewServer assembles the relay from its configuration. An empty redis
// address runs the relay fully in-memory.
func NewServer(cfg config.Relay, logger *logrus.Entry) (*Server, error) {
	var store *Store
	if cfg.RedisAddr != "" {
		var err error
		store, err = NewStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		logger.Infof("session registry mirrored to redis at %s", cfg.RedisAddr)
	}

	s := &Server{
		cfg:    cfg,
		hub:    NewHub(store, logger),
		store:  store,
		logger: logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/sessions/:session", s.handleSession)
	router.GET("/ws/:session", s.handleWS)

	s.http = &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	return s, nil
}

// Handler exposes the HTTP handler, used to mount the relay on test
// servers.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Infof("relay listening on %s", s.cfg.Addr)
	err := s.http.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if s.store != nil {
		s.store.Close()
	}
	return err
}

// handleSession reports which roles are present in a session. It prefers
// the redis registry when configured, so the answer covers all relay
// instances.
func (s *Server) handleSession(c *gin.Context) {
	sessionID := c.Param("session")

	if s.store != nil {
		members, err := s.store.Members(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": sessionID, "members": members})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": sessionID, "members": s.hub.Members(sessionID)})
}

// handleWS upgrades the connection and services it until it dies.
func (s *Server) handleWS(c *gin.Context) {
	sessionID := c.Param("session")
	role := config.Role(c.Query("role"))
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be initiator or responder"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := NewClient(s.hub, sessionID, role, conn, s.logger)
	if err := s.hub.Join(client); err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}

	go client.Run()
}

// checkOrigin accepts any origin unless an allow-list is configured.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigin) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigin {
		if origin == allowed {
			return true
		}
	}
	return false
}
