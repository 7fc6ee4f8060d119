package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"warcity.io/internal/auth"
	"warcity.io/internal/protocol"
	"warcity.io/internal/sim"
	"warcity.io/internal/transport/hub"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 90 * time.Second
	pingPeriod = 30 * time.Second

	// Move commands are best-effort and client-driven; cap the rate per
	// session instead of rejecting loudly.
	moveRatePerSec = 20
	moveBurst      = 40
)

type Server struct {
	engine *sim.Engine
	auth   *auth.Service
	hub    *hub.Hub
	log    *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(engine *sim.Engine, authSvc *auth.Service, h *hub.Hub, logger *log.Logger) *Server {
	return &Server{
		engine: engine,
		auth:   authSvc,
		hub:    h,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		settlementID, sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine: private + global channel traffic, plus pings.
		go func() {
			pings := time.NewTicker(pingPeriod)
			defer pings.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-pings.C:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						cancel()
						return
					}
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		moves := rate.NewLimiter(rate.Limit(moveRatePerSec), moveBurst)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeCmd {
				continue
			}
			var cmd protocol.CmdMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			if cmd.ProtocolVersion != protocol.Version {
				continue
			}
			if cmd.Name == protocol.CmdMove && !moves.Allow() {
				continue
			}
			s.engine.Dispatch(settlementID, cmd)
		}

		// Cleanup.
		s.hub.Unregister(sessionID)
		s.engine.Disconnected(settlementID)
	}
}

// handshake expects HELLO with a valid bearer token, subscribes the session
// and sends WELCOME plus the initial private STATE and world snapshot.
// A session that fails verification receives an auth notice and nothing else.
func (s *Server) handshake(conn *websocket.Conn) (settlementID int64, sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return 0, "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return 0, "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return 0, "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return 0, "", nil
	}

	settlementID, err = s.auth.Verify(hello.Token)
	if err != nil {
		_ = writeJSON(conn, protocol.NoticeMsg{
			Type:            protocol.TypeNotice,
			ProtocolVersion: protocol.Version,
			Code:            protocol.ErrAuth,
			Text:            "Invalid token",
		})
		return 0, "", nil
	}

	stateMsg, ok := s.engine.StateFor(settlementID)
	if !ok {
		return 0, "", nil
	}

	sessionID = uuid.NewString()
	out = make(chan []byte, 64)
	s.hub.Register(sessionID, settlementID, out)

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SettlementID:    settlementID,
		Username:        stateMsg.Settlement.Username,
		SessionID:       sessionID,
		WorldParams: protocol.WorldParams{
			CellSize:     s.engine.Rules().CellSize,
			SpawnExtent:  s.engine.Rules().SpawnExtent,
			DayLengthSec: s.engine.Rules().Day.LengthSec,
			RaidRadius:   s.engine.Rules().RaidRadius,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.hub.Unregister(sessionID)
		return 0, "", nil
	}
	if err := writeJSON(conn, stateMsg); err != nil {
		s.hub.Unregister(sessionID)
		return 0, "", nil
	}
	if err := writeJSON(conn, s.engine.WorldSnapshot()); err != nil {
		s.hub.Unregister(sessionID)
		return 0, "", nil
	}

	return settlementID, sessionID, out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
