// Package remote exposes playback over a local WebSocket endpoint so
// companion apps and scripts can observe and drive the player. Each client
// receives the current snapshot on connect, then coalesced updates as an
// observer of the broadcast synchronizer, and may send JSON commands back.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"finch/internal/broadcast"
)

const writeTimeout = 5 * time.Second

// Command is the client-to-server message. Fields beyond Action are read
// only by the actions that need them.
type Command struct {
	Action     string `json:"action"`
	PositionMS int    `json:"positionMs,omitempty"`
	Volume     int    `json:"volume,omitempty"`
	Enabled    bool   `json:"enabled,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

type message struct {
	Type     string              `json:"type"`
	Snapshot *broadcast.Snapshot `json:"snapshot,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Server accepts WebSocket sessions and bridges them to the playback
// controller. It implements broadcast.Observer so every state change the
// synchronizer deems notable is pushed to all connected clients.
type Server struct {
	mu         sync.Mutex
	log        *slog.Logger
	controller broadcast.Controller
	httpServer *http.Server
	listener   net.Listener
	clients    map[*client]struct{}
	lastKnown  *broadcast.Snapshot
}

type client struct {
	conn *websocket.Conn
}

func NewServer(controller broadcast.Controller, log *slog.Logger) *Server {
	return &Server{
		log:        log.With("component", "remote"),
		controller: controller,
		clients:    make(map[*client]struct{}),
	}
}

// Start binds addr and serves until Stop. It returns once the listener is
// bound, so a bad address surfaces immediately rather than in a goroutine.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	server := &http.Server{Handler: mux}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("remote server stopped", "error", err)
		}
	}()

	s.log.Info("remote control listening", "addr", listener.Addr().String())
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.listener = nil
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Addr reports the bound address, useful when addr was ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Name() string {
	return "remote"
}

// Notify pushes the snapshot to every connected client. Slow or broken
// clients are dropped rather than allowed to stall the rest.
func (s *Server) Notify(snapshot broadcast.Snapshot) error {
	s.mu.Lock()
	s.lastKnown = &snapshot
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := s.send(c, message{Type: "state", Snapshot: &snapshot}); err != nil {
			s.drop(c, "write state")
		}
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("accept websocket", "error", err)
		return
	}

	c := &client{conn: conn}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	snapshot := s.lastKnown
	s.mu.Unlock()

	s.log.Debug("remote client connected", "remote", r.RemoteAddr)

	if snapshot != nil {
		if err := s.send(c, message{Type: "state", Snapshot: snapshot}); err != nil {
			s.drop(c, "write initial state")
			return
		}
	}

	s.readLoop(r.Context(), c)
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	defer s.drop(c, "")

	for {
		var cmd Command
		if err := wsjson.Read(ctx, c.conn, &cmd); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("remote client read ended", "error", err)
			return
		}

		if err := s.dispatch(cmd); err != nil {
			if werr := s.send(c, message{Type: "error", Error: err.Error()}); werr != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(cmd Command) error {
	switch cmd.Action {
	case "play":
		return s.controller.Play()
	case "pause":
		return s.controller.Pause()
	case "toggle":
		return s.controller.TogglePlayback()
	case "stop":
		return s.controller.Stop()
	case "next":
		return s.controller.Next()
	case "previous":
		return s.controller.Previous()
	case "seek":
		return s.controller.SeekMS(cmd.PositionMS)
	case "volume":
		return s.controller.SetVolume(cmd.Volume)
	case "shuffle":
		return s.controller.SetShuffle(cmd.Enabled)
	case "repeat":
		return s.controller.SetRepeatMode(cmd.Mode)
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}

func (s *Server) send(c *client, msg message) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, msg)
}

func (s *Server) drop(c *client, reason string) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	if !present {
		return
	}
	if reason != "" {
		s.log.Debug("dropping remote client", "reason", reason)
	}
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}
