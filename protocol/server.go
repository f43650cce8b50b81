// Package protocol implements view-driven tile streaming: clients send
// camera snapshots, the server prioritizes visible tiles and pushes them
// back under client-controlled bandwidth and in-flight budgets.
//
// The Session state machine is transport-agnostic; Server binds it to a
// WebSocket endpoint.
package protocol

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tilecraft/tilestream/codec"
)

// Server exposes tile streaming over WebSocket. It implements
// http.Handler; mount it on the streaming route.
type Server struct {
	registry *Registry
	config   SessionConfig
	codec    codec.Codec
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a streaming server over the registry. A nil codec
// selects codec.Default; a nil logger discards logs.
func NewServer(registry *Registry, config SessionConfig, c codec.Codec, logger *slog.Logger) *Server {
	if c == nil {
		c = codec.Default
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		registry: registry,
		config:   config,
		codec:    c,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	session := NewSession(s.registry, s.config, s.logger)
	logger := s.logger.With(slog.String("session", session.ID()))

	if err := s.write(conn, session.Hello()); err != nil {
		logger.Warn("hello write failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("session connected")

	ctx := r.Context()
	var lastView time.Time

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			logger.Info("session disconnected", slog.String("error", err.Error()))
			return
		}

		var msg ClientMessage
		if err := s.codec.Unmarshal(frame, &msg); err != nil {
			if werr := s.write(conn, errorFrame("parse_error", err.Error())); werr != nil {
				return
			}
			continue
		}

		// Throttle view updates at the transport boundary.
		if msg.Type == TypeUpdateView && s.config.MinViewInterval > 0 {
			now := time.Now()
			if now.Sub(lastView) < s.config.MinViewInterval {
				continue
			}
			lastView = now
		}

		for _, out := range session.HandleMessage(ctx, msg) {
			if out.Type == TypeTileData {
				if err := session.WaitBandwidth(ctx, len(out.Data)); err != nil {
					return
				}
			}
			if err := s.write(conn, out); err != nil {
				logger.Warn("write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, msg ServerMessage) error {
	data, err := s.codec.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
