// Package ws implements the streaming chat protocol over a websocket
// connection: one session per connection, serving request/reply cycles until
// the client goes away.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hferrand/chatstream/internal/chat"
)

type State int

const (
	StateAwaitingRequest State = iota
	StatePreparing
	StateStarting
	StateStreaming
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateAwaitingRequest:
		return "awaiting_request"
	case StatePreparing:
		return "preparing"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// fragmentBuffer decouples generation bursts from client write latency; the
// producer blocks (never drops) when it fills.
const fragmentBuffer = 64

// Session drives the per-connection state machine. The generation producer
// and the event-draining consumer are the only two concurrent units of work,
// joined by a single bounded channel that the producer writes and the
// session drains in order.
type Session struct {
	conn  *websocket.Conn
	svc   *chat.Service
	state State
	log   zerolog.Logger
}

func NewSession(conn *websocket.Conn, svc *chat.Service) *Session {
	return &Session{
		conn:  conn,
		svc:   svc,
		state: StateAwaitingRequest,
		log: log.With().
			Str("component", "ws").
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// Run serves request/reply cycles until the connection closes. Malformed
// payloads and failed turns produce an error event and the session returns
// to awaiting the next request; only the connection going away is terminal.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()
	s.log.Info().Msg("client connected")

	for {
		s.state = StateAwaitingRequest
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Info().Msg("client disconnected")
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var req chat.ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := s.send(errorEvent(fmt.Sprintf("invalid request: %v", err))); err != nil {
				return
			}
			continue
		}

		if err := s.serve(ctx, req); err != nil {
			s.log.Warn().Err(err).Str("state", s.state.String()).Msg("connection write failed")
			return
		}
	}
}

// serve runs one turn. A non-nil return means the connection itself failed;
// every per-turn failure is reported to the client as an error event and
// returns nil so the session can accept the next request.
func (s *Session) serve(ctx context.Context, req chat.ChatRequest) error {
	s.state = StatePreparing
	prep, err := s.svc.Prepare(ctx, req)
	if err != nil {
		return s.send(errorEvent(err.Error()))
	}

	// Tells the client which conversation id to attach subsequent turns to,
	// which matters when the id was just generated server-side.
	s.state = StateStarting
	if err := s.send(startEvent(prep.ConversationID)); err != nil {
		return err
	}

	s.state = StateStreaming
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fragments := make(chan string, fragmentBuffer)
	result := make(chan error, 1)
	go func() {
		defer close(fragments)
		result <- s.svc.StreamReply(genCtx, prep, fragments)
	}()

	var full strings.Builder
	var writeErr error
	for fragment := range fragments {
		full.WriteString(fragment)
		if writeErr != nil {
			continue // draining so the producer can observe cancellation
		}
		if writeErr = s.send(chunkEvent(fragment)); writeErr != nil {
			// Client gone mid-stream: cancel the producer; its next push
			// hits the cancelled context and it stops. The in-flight turn
			// is discarded rather than persisted from a dead connection.
			cancel()
		}
	}

	s.state = StateFinalizing
	genErr := <-result
	if writeErr != nil {
		return writeErr
	}
	if genErr != nil {
		return s.send(errorEvent(genErr.Error()))
	}

	msg, err := s.svc.SaveAssistantMessage(ctx, prep.ConversationID, full.String())
	if err != nil {
		// The text reached the client via chunks but is not durably saved;
		// report it instead of swallowing it.
		return s.send(errorEvent(fmt.Sprintf("failed to save response: %v", err)))
	}
	return s.send(endEvent(full.String(), msg.ID))
}

func (s *Session) send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
