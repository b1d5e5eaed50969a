// Package transport implements the session transport (§6 External
// Interfaces): a websocket-per-session control channel plus the
// POST /api/session/create bootstrap endpoint, grounded on the teacher's
// a2a/server.go handleStreamTask websocket-upgrade-and-pump pattern.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowmind/orchestrator/internal/agent"
	"github.com/flowmind/orchestrator/internal/eventbus"
	"github.com/flowmind/orchestrator/internal/orchestrator"
	"github.com/flowmind/orchestrator/internal/planner"
)

// clientMessage is the union of every client-to-server control message
// shape named in spec.md §6. Only the fields relevant to Type are set.
type clientMessage struct {
	Type           string                 `json:"type"`
	Content        string                 `json:"content"`
	Mode           string                 `json:"mode"`
	ConfirmationID string                 `json:"confirmation_id"`
	Plan           *planPayload           `json:"plan"`
	AssistanceID   string                 `json:"assistance_id"`
	Response       string                 `json:"response"`
	FileIDs        []string               `json:"file_ids"`
}

type planPayload struct {
	Plan  string   `json:"plan"`
	Steps []string `json:"steps"`
}

// envelope is the server-to-client wire shape: "every envelope carries
// {type, timestamp, data}" (spec.md §6).
type envelope struct {
	Type      eventbus.EventType     `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Server hosts the session-create endpoint and the per-session websocket
// upgrade handler.
type Server struct {
	wrapper *agent.Wrapper
	bus     RawBus
	logger  *slog.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// RawBus is the subset of eventbus.Bus the transport layer needs beyond
// the Publisher interface: Subscribe/Unsubscribe are per-connection
// operations the Agent Wrapper and orchestrators never perform.
type RawBus interface {
	Subscribe(sessionID string, buffer int) <-chan eventbus.StreamEvent
	Unsubscribe(sessionID string, ch <-chan eventbus.StreamEvent)
}

// New builds a Server. addr is the "host:port" to listen on.
func New(addr string, wrapper *agent.Wrapper, bus RawBus, logger *slog.Logger) *Server {
	s := &Server{
		wrapper: wrapper,
		bus:     bus,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session/create", s.handleCreateSession)
	mux.HandleFunc("/ws/", s.handleSessionSocket)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start blocks serving HTTP until the listener errors or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("transport: listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleCreateSession implements "POST /api/session/create → {session_id}".
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := agent.NewSessionID()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"session_id": sessionID})
}

// handleSessionSocket upgrades to a websocket bound to the session id in
// the URL path (/ws/{session_id}), then runs a read pump (control
// messages) alongside a write pump (StreamEvent fan-out) until either
// side disconnects.
func (s *Server) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("transport: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := s.bus.Subscribe(sessionID, 64)
	defer s.bus.Unsubscribe(sessionID, events)

	done := make(chan struct{})
	go s.writePump(conn, events, done)
	s.readPump(conn, sessionID)
	close(done)
}

// writePump forwards every published StreamEvent to the client as an
// envelope, until the subscriber channel closes (superseded or session
// torn down) or done fires.
func (s *Server) writePump(conn *websocket.Conn, events <-chan eventbus.StreamEvent, done <-chan struct{}) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			env := envelope{Type: event.Type, Timestamp: event.Timestamp, Data: event.Payload}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readPump decodes client control messages and routes them to the Agent
// Wrapper (spec.md §6 client-to-server messages). Dispatch runs in its
// own goroutine per message: a "message" control message blocks inside
// Execute for as long as the turn takes (up to the 300s approval/
// assistance window), and the approve/reject/update_plan/
// assistance_response/stop messages that resolve those very gates arrive
// on this same connection. Running dispatch inline would starve the read
// loop and make every gate unreachable; the read loop's only job is
// decode+route.
func (s *Server) readPump(conn *websocket.Conn, sessionID string) {
	ctx := context.Background()
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		go func(msg clientMessage) {
			if err := s.dispatch(ctx, sessionID, msg); err != nil {
				s.logger.Warn("transport: dispatch failed", "session_id", sessionID, "type", msg.Type, "error", err)
			}
		}(msg)
	}
}

func (s *Server) dispatch(ctx context.Context, sessionID string, msg clientMessage) error {
	switch msg.Type {
	case "message":
		mode := orchestrator.ModeApproval
		if msg.Mode == "instant" {
			mode = orchestrator.ModeInstant
		}
		return s.wrapper.ProcessMessage(ctx, sessionID, msg.Content, mode, msg.FileIDs)
	case "approve":
		return s.wrapper.ApprovePlan(sessionID, msg.ConfirmationID)
	case "reject":
		return s.wrapper.RejectPlan(sessionID, msg.ConfirmationID)
	case "update_plan":
		if msg.Plan == nil {
			return fmt.Errorf("update_plan requires a plan payload")
		}
		return s.wrapper.UpdatePlan(sessionID, msg.ConfirmationID, &planner.Plan{
			Summary: msg.Plan.Plan, Steps: msg.Plan.Steps,
		})
	case "assistance_response":
		return s.wrapper.ResolveAssistance(sessionID, msg.AssistanceID, msg.Response)
	case "stop":
		return s.wrapper.StopGeneration(sessionID)
	default:
		return fmt.Errorf("unknown control message type %q", msg.Type)
	}
}
