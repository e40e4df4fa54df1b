package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/bulkota/internal/logging"
	"github.com/muurk/bulkota/internal/ota"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Config holds the status server configuration
type Config struct {
	// Listen is the TCP address to bind, e.g. ":8080"
	Listen string
}

// FirmwareInfo describes the image being distributed.
type FirmwareInfo struct {
	Name        string `json:"name"`
	Size        int    `json:"size"`
	ChunkSize   int    `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
}

// DeviceStatus is one device in the /status response.
type DeviceStatus struct {
	DeviceID     string    `json:"device_id"`
	NextChunk    int       `json:"next_chunk"`
	Progress     float64   `json:"progress"`
	Finished     bool      `json:"finished"`
	Abandoned    bool      `json:"abandoned"`
	Retries      int       `json:"retries"`
	FirstSeen    time.Time `json:"first_seen"`
	LastActivity time.Time `json:"last_activity"`
}

// Report is the /status response body.
type Report struct {
	Firmware FirmwareInfo   `json:"firmware"`
	Devices  []DeviceStatus `json:"devices"`
	Finished int            `json:"finished"`
	Settled  bool           `json:"settled"`
}

// Server serves transfer progress over HTTP and WebSocket
type Server struct {
	config     Config
	registry   *ota.Registry
	firmware   FirmwareInfo
	hub        *Hub
	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// New creates a status server reading from registry.
func New(config Config, registry *ota.Registry, firmware FirmwareInfo) *Server {
	s := &Server{
		config:   config,
		registry: registry,
		firmware: firmware,
		hub:      NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Observer returns an ota.Observer that streams events to WebSocket clients.
func (s *Server) Observer() ota.Observer {
	return s.hub.Broadcast
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	s.listener = listener

	logging.Info("Status server listening", zap.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Status server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown closes WebSocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down status server...")
	s.hub.Close()
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

// Report builds the current /status body.
func (s *Server) Report() Report {
	states := s.registry.Snapshot()
	report := Report{
		Firmware: s.firmware,
		Devices:  make([]DeviceStatus, 0, len(states)),
		Settled:  len(states) > 0,
	}

	for _, st := range states {
		progress := 1.0
		if s.firmware.TotalChunks > 0 && !st.Finished {
			progress = float64(st.NextChunk) / float64(s.firmware.TotalChunks)
		}
		if st.Finished {
			report.Finished++
		}
		if !st.Settled() {
			report.Settled = false
		}
		report.Devices = append(report.Devices, DeviceStatus{
			DeviceID:     st.DeviceID,
			NextChunk:    st.NextChunk,
			Progress:     progress,
			Finished:     st.Finished,
			Abandoned:    st.Abandoned,
			Retries:      st.Retries,
			FirstSeen:    st.FirstSeen,
			LastActivity: st.LastActivity,
		})
	}
	return report
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Report()); err != nil {
		logging.Error("Failed to write status", zap.Error(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	c, ok := s.hub.register(r.RemoteAddr)
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	logging.Debug("Status client connected", zap.String("remote_addr", r.RemoteAddr))

	go s.writePump(conn, c)
	s.readPump(conn, c)
}

// readPump discards client messages and keeps pong deadlines fresh.
func (s *Server) readPump(conn *websocket.Conn, c *client) {
	defer func() {
		s.hub.unregister(c)
		logging.Debug("Status client disconnected", zap.String("remote_addr", c.remoteAddr))
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
