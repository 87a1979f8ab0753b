// Package gateway is the front-end connector: a websocket server that
// delivers inbound messages to the session manager and renders planner
// output back to the client. It is deliberately thin; the only call it
// makes into the core is Manager.Advance.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gatherkit/gather-go/core"
	"github.com/gatherkit/gather-go/planner"
	"github.com/gatherkit/gather-go/session"
)

// Frame is one inbound client message.
type Frame struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Text           string `json:"text"`
}

// Reply is one outbound render payload.
type Reply struct {
	Type       string           `json:"type"`
	Text       string           `json:"text,omitempty"`
	Candidates []core.Candidate `json:"candidates,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Server serves the websocket endpoint.
type Server struct {
	manager  *session.Manager
	addr     string
	upgrader websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a gateway bound to the given listen address.
func NewServer(manager *session.Manager, addr string) *Server {
	return &Server{
		manager: manager,
		addr:    addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway fronts chat clients, not browsers with credentials.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start binds the listener and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("gateway: already started")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", s.addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)

	server := &http.Server{
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
	}
	server.BaseContext = func(net.Listener) context.Context { return ctx }
	s.server = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[GATEWAY] serve error: %v", err)
		}
	}()
	log.Printf("[GATEWAY] listening on %s", listener.Addr())
	return nil
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	return err
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleWS runs one goroutine per connection: read a frame, advance the
// session, write the reply. Writes are serialized per connection because
// the read loop is the only writer.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[GATEWAY] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[GATEWAY] read failed: %v", err)
			}
			return
		}

		reply := s.advance(ctx, frame)
		if err := conn.WriteJSON(reply); err != nil {
			log.Printf("[GATEWAY] write failed: %v", err)
			return
		}
	}
}

func (s *Server) advance(ctx context.Context, frame Frame) Reply {
	if frame.ConversationID == "" || frame.SenderID == "" {
		return Reply{Type: "error", Error: "conversation_id and sender_id are required"}
	}

	out, err := s.manager.Advance(ctx, frame.ConversationID, frame.SenderID, frame.Text)
	if err != nil {
		return Reply{Type: "error", Error: userFacingError(err)}
	}

	reply := Reply{Type: string(out.Kind), Text: out.Text}
	if out.Kind == planner.OutputRecommendations {
		reply.Candidates = out.Candidates
	}
	return reply
}

// userFacingError maps the taxonomy to text safe to show a user.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, core.ErrRetrievalUnavailable):
		return "search is temporarily unavailable, please try again in a moment"
	case errors.Is(err, core.ErrStoreUnavailable):
		return "storage is temporarily unavailable, please try again in a moment"
	case errors.Is(err, core.ErrSessionClosed):
		return "this conversation was closed, send a new message to start over"
	default:
		return "something went wrong, please try again"
	}
}
