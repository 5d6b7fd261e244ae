package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades HTTP connections to WebSockets for gate terminals.
type Server struct {
	ctx          context.Context
	manager      *Manager
	processor    MessageProcessor
	agentID      func(context.Context) string
	logger       *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewServer builds ws server. Connections live until ctx ends or the peer
// disconnects; agentID extracts the authenticated agent from the request.
func NewServer(ctx context.Context, manager *Manager, processor MessageProcessor, agentID func(context.Context) string, writeTimeout time.Duration, logger *zap.Logger) *Server {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Server{
		ctx:          ctx,
		manager:      manager,
		processor:    processor,
		agentID:      agentID,
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is HTTP handler for the /gate/ws endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	gateID := r.URL.Query().Get("gate_id")
	if gateID == "" {
		http.Error(w, "gate_id is required", http.StatusBadRequest)
		return
	}
	peer := Peer{GateID: gateID}
	if s.agentID != nil {
		peer.AgentID = s.agentID(r.Context())
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	readTimeout := 2 * s.manager.PingInterval()
	connection := NewConnection(peer, conn, s.processor, s.writeTimeout, readTimeout, s.logger, func(c *Connection) {
		s.manager.Remove(c)
		cancel()
	})
	if previous := s.manager.Add(connection); previous != nil {
		previous.Close()
	}

	go connection.Start(ctx)
	s.logger.Info("gate connected", zap.String("gate_id", gateID), zap.String("agent_id", peer.AgentID))
}
