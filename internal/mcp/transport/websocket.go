package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketTransport implements MCP communication over a single persistent
// WebSocket connection, for remote agents that need full-duplex push without
// SSE's server-to-client-only framing.
type WebSocketTransport struct {
	logger     *logrus.Logger
	server     *http.Server
	router     *gin.Engine
	host       string
	port       int
	upgrader   websocket.Upgrader
	conn       *websocket.Conn
	connMu     sync.Mutex
	messagesCh chan []byte
	closed     bool
	mu         sync.RWMutex
}

// NewWebSocketTransport creates a new WebSocket transport.
func NewWebSocketTransport(logger *logrus.Logger, host string, port int) *WebSocketTransport {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	transport := &WebSocketTransport{
		logger: logger,
		router: router,
		host:   host,
		port:   port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		messagesCh: make(chan []byte, 100),
	}

	transport.router.GET("/mcp/ws", transport.handleUpgrade)
	transport.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "transport": "websocket"})
	})

	return transport
}

func (w *WebSocketTransport) handleUpgrade(c *gin.Context) {
	conn, err := w.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		w.logger.WithError(err).Error("failed to upgrade to websocket")
		return
	}

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
	w.logger.Info("MCP client connected over websocket")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.logger.WithError(err).Info("websocket connection closed")
			return
		}
		select {
		case w.messagesCh <- data:
		default:
			w.logger.Warn("websocket message queue full, dropping message")
		}
	}
}

// Start implements Transport.
func (w *WebSocketTransport) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("transport is closed")
	}

	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{Addr: addr, Handler: w.router}

	w.logger.WithField("address", addr).Info("starting websocket transport for MCP communication")

	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			w.logger.WithError(err).Error("websocket server failed")
		}
	}()

	return nil
}

// ReadMessage implements Transport.
func (w *WebSocketTransport) ReadMessage() ([]byte, error) {
	select {
	case msg := <-w.messagesCh:
		return msg, nil
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("read timeout")
	}
}

// WriteMessage implements Transport.
func (w *WebSocketTransport) WriteMessage(message []byte) error {
	w.connMu.Lock()
	defer w.connMu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("no connected websocket client")
	}
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

// WriteJSONMessage implements Transport.
func (w *WebSocketTransport) WriteJSONMessage(obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return w.WriteMessage(data)
}

// Close implements Transport.
func (w *WebSocketTransport) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()

	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			w.logger.WithError(err).Error("error shutting down websocket server")
			return err
		}
	}

	close(w.messagesCh)
	w.logger.Info("websocket transport closed")
	return nil
}

// IsClosed implements Transport.
func (w *WebSocketTransport) IsClosed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closed
}

// GetType implements Transport.
func (w *WebSocketTransport) GetType() string {
	return "websocket"
}
