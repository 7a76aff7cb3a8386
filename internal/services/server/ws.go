package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/imogine/internal/broadcast"
	apperrors "github.com/louisbranch/imogine/internal/errors"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxDecodeErrorsPerConn = 3
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type subscribePayload struct {
	Stream    string `json:"stream"`
	SessionID string `json:"session_id"`
}

type subscribedPayload struct {
	Stream    string `json:"stream"`
	SessionID string `json:"session_id"`
}

type eventPayload struct {
	Stream    string       `json:"stream"`
	SessionID string       `json:"session_id"`
	Effect    *effectJSON  `json:"effect,omitempty"`
	Session   *sessionJSON `json:"session,omitempty"`
}

// wsPeer serializes concurrent frame writes onto one connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// wsConnState tracks one connection's active subscriptions so they can all
// be torn down when the connection ends.
type wsConnState struct {
	mu   sync.Mutex
	subs map[string]*broadcast.Subscription
	wg   sync.WaitGroup
}

func (s *wsConnState) add(key string, sub *broadcast.Subscription) *broadcast.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.subs[key]
	s.subs[key] = sub
	return previous
}

func (s *wsConnState) closeAll() {
	s.mu.Lock()
	subs := make([]*broadcast.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = map[string]*broadcast.Subscription{}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// handleWSConn reads subscribe frames and pumps matching events back until
// the client disconnects.
func (a *app) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))
	state := &wsConnState{subs: make(map[string]*broadcast.Subscription)}
	defer func() {
		state.closeAll()
		state.wg.Wait()
	}()

	decodeErrors := 0
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", apperrors.CodeUnknown, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, frame.RequestID, apperrors.CodeUnknown, "payload too large")
			continue
		}

		switch frame.Type {
		case "session.subscribe":
			a.handleSubscribeFrame(peer, state, frame)
		default:
			_ = writeWSError(peer, frame.RequestID, apperrors.CodeUnknown, "unsupported frame type")
		}
	}
}

func (a *app) handleSubscribeFrame(peer *wsPeer, state *wsConnState, frame wsFrame) {
	var payload subscribePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, frame.RequestID, apperrors.CodeUnknown, "invalid subscribe payload")
		return
	}

	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		_ = writeWSError(peer, frame.RequestID, apperrors.CodeSessionNotFound, "session_id is required")
		return
	}

	var stream broadcast.Stream
	switch payload.Stream {
	case string(broadcast.StreamEffectApplied):
		stream = broadcast.StreamEffectApplied
	case string(broadcast.StreamSessionUpdated):
		stream = broadcast.StreamSessionUpdated
	default:
		_ = writeWSError(peer, frame.RequestID, apperrors.CodeUnknown, "unknown stream")
		return
	}

	sub := a.hub.Subscribe(stream, sessionID)
	// Resubscribing to the same pair replaces the previous feed.
	if previous := state.add(string(stream)+"/"+sessionID, sub); previous != nil {
		previous.Close()
	}

	state.wg.Add(1)
	go func() {
		defer state.wg.Done()
		pumpEvents(peer, sub)
	}()

	_ = peer.writeFrame(wsFrame{
		Type:      "session.subscribed",
		RequestID: frame.RequestID,
		Payload: mustJSON(subscribedPayload{
			Stream:    string(stream),
			SessionID: sessionID,
		}),
	})
}

// pumpEvents forwards broadcast events to the peer until the subscription
// closes. A write failure closes the subscription to stop the feed.
func pumpEvents(peer *wsPeer, sub *broadcast.Subscription) {
	for event := range sub.Events() {
		payload := eventPayload{
			Stream:    string(event.Stream),
			SessionID: event.SessionID,
		}
		if event.Effect != nil {
			effect := toEffectJSON(*event.Effect)
			payload.Effect = &effect
		}
		if event.Session != nil {
			sess := toSessionJSON(*event.Session)
			payload.Session = &sess
		}

		if err := peer.writeFrame(wsFrame{
			Type:    "session.event",
			Payload: mustJSON(payload),
		}); err != nil {
			sub.Close()
			return
		}
	}
}

func writeWSError(peer *wsPeer, requestID string, code apperrors.Code, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "session.error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:      string(code),
				Message:   message,
				Retryable: code.Retryable(),
			},
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
