package overlay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"screen-ghost/src/config"
	"screen-ghost/src/logutil"
)

// ErrAlreadyRunning wraps a failed bind. The loopback endpoint doubles
// as the single-instance guard: a second copy of the app cannot bind
// the same port.
var ErrAlreadyRunning = errors.New("overlay endpoint in use (another instance running?)")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The endpoint binds loopback only; origin checks add nothing.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server exposes the overlay feed over HTTP and WebSocket.
type Server struct {
	addr   string
	pub    *Publisher
	hub    *Hub
	logger *zap.Logger
	http   *http.Server
}

func NewServer(cfg config.OverlayConfig, pub *Publisher, hub *Hub, logger *zap.Logger) *Server {
	switch cfg.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	return &Server{
		addr:   cfg.Addr,
		pub:    pub,
		hub:    hub,
		logger: logutil.Or(logger),
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/overlay/ws", s.handleWS)
	r.GET("/overlay/latest", s.handleLatest)
	r.GET("/overlay/style", s.handleStyle)
	r.GET("/healthz", s.handleHealth)
	return r
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Overlay upgrade failed", zap.Error(err))
		return
	}
	var seed *Payload
	if p, ok := s.pub.Latest(); ok {
		seed = &p
	}
	s.hub.Attach(conn, seed)
}

func (s *Server) handleLatest(c *gin.Context) {
	p, ok := s.pub.Latest()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleStyle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"style":        s.pub.Style(),
		"mosaic_scale": s.pub.MosaicScale(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

// Addr is the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.addr
}

// Start binds the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
	}
	s.addr = ln.Addr().String()
	s.http = &http.Server{Handler: s.routes()}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Overlay server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("Overlay endpoint listening", zap.String("addr", s.addr))
	return nil
}

// Shutdown disconnects clients and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
