package hub

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub is the session registry of the broadcast layer. Each connected session
// subscribes to exactly one settlement's private channel; every session
// always receives the global channel. Multiple sessions may share one
// settlement.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*session
	log      *log.Logger
}

type session struct {
	settlementID int64
	out          chan []byte
}

func New(logger *log.Logger) *Hub {
	return &Hub{sessions: map[string]*session{}, log: logger}
}

// Register subscribes a session to its settlement's private channel.
func (h *Hub) Register(sessionID string, settlementID int64, out chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = &session{settlementID: settlementID, out: out}
}

// Unregister drops a session and reports which settlement it belonged to.
func (h *Hub) Unregister(sessionID string) (settlementID int64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return 0, false
	}
	delete(h.sessions, sessionID)
	return s.settlementID, true
}

// SendTo delivers a message to every session on one settlement's channel.
func (h *Hub) SendTo(settlementID int64, msg any) {
	h.send(msg, func(s *session) bool { return s.settlementID == settlementID })
}

// Broadcast delivers a message to every connected session.
func (h *Hub) Broadcast(msg any) {
	h.send(msg, func(s *session) bool { return true })
}

// BroadcastExcept delivers a message to every session not subscribed to the
// given settlement.
func (h *Hub) BroadcastExcept(settlementID int64, msg any) {
	h.send(msg, func(s *session) bool { return s.settlementID != settlementID })
}

func (h *Hub) send(msg any, match func(*session) bool) {
	b, err := json.Marshal(msg)
	if err != nil {
		if h.log != nil {
			h.log.Printf("hub: marshal: %v", err)
		}
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		if !match(s) {
			continue
		}
		// Slow consumers drop messages rather than stall the simulation;
		// the next full-state push resynchronizes them.
		select {
		case s.out <- b:
		default:
		}
	}
}
