package sim

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"warcity.io/internal/protocol"
	"warcity.io/internal/rules"
	"warcity.io/internal/state"
)

// Broadcaster is the outbound half of the sync layer: one private channel per
// settlement plus a global channel every session receives.
type Broadcaster interface {
	SendTo(settlementID int64, msg any)
	Broadcast(msg any)
	BroadcastExcept(settlementID int64, msg any)
}

// Engine applies commands and runs the periodic processes. Commands and tick
// passes execute concurrently; the store's per-aggregate mutation is the only
// serialization boundary between them.
type Engine struct {
	store *state.Store
	rules rules.Rules
	bc    Broadcaster
	log   *log.Logger

	// Shared day timer: written only by the day-cycle process, read by every
	// state push. Unix nanoseconds.
	dayStart atomic.Int64
}

func New(store *state.Store, r rules.Rules, bc Broadcaster, logger *log.Logger) *Engine {
	e := &Engine{store: store, rules: r, bc: bc, log: logger}
	e.dayStart.Store(time.Now().UnixNano())
	return e
}

// Rules exposes the engine's rule tables (read-only by convention).
func (e *Engine) Rules() rules.Rules { return e.rules }

// Start launches the periodic processes. They stop when ctx is canceled.
func (e *Engine) Start(ctx context.Context) {
	go e.runEvery(ctx, time.Duration(e.rules.Production.PeriodSec)*time.Second, e.stepProduction)
	go e.runEvery(ctx, time.Duration(e.rules.Combat.PeriodSec)*time.Second, e.stepCombat)
	go e.runEvery(ctx, time.Duration(e.rules.Day.LengthSec)*time.Second, e.stepDayCycle)
}

func (e *Engine) runEvery(ctx context.Context, period time.Duration, step func()) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			step()
		}
	}
}

// DayTimeLeft is the remaining seconds until the next day-cycle firing,
// computed from the shared day-start timestamp.
func (e *Engine) DayTimeLeft() float64 {
	elapsed := time.Since(time.Unix(0, e.dayStart.Load())).Seconds()
	left := float64(e.rules.Day.LengthSec) - elapsed
	if left < 0 {
		return 0
	}
	return left
}

// StateFor builds the private full-state snapshot for one settlement.
func (e *Engine) StateFor(id int64) (protocol.StateMsg, bool) {
	s, bs, ks, ok := e.store.View(id)
	if !ok {
		return protocol.StateMsg{}, false
	}
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Settlement:      settlementView(s),
		Buildings:       make([]protocol.BuildingView, 0, len(bs)),
		Knights:         make([]protocol.KnightView, 0, len(ks)),
		DayTimeLeft:     e.DayTimeLeft(),
	}
	for _, b := range bs {
		msg.Buildings = append(msg.Buildings, buildingView(b, s.Username))
	}
	for _, k := range ks {
		msg.Knights = append(msg.Knights, knightView(k))
	}
	return msg, true
}

// WorldSnapshot lists every building in the world with its owner's name, for
// the join-time WORLD push.
func (e *Engine) WorldSnapshot() protocol.WorldMsg {
	names := map[int64]string{}
	for _, s := range e.store.Settlements() {
		names[s.ID] = s.Username
	}
	bs := e.store.AllBuildings()
	msg := protocol.WorldMsg{
		Type:            protocol.TypeWorld,
		ProtocolVersion: protocol.Version,
		Buildings:       make([]protocol.BuildingView, 0, len(bs)),
	}
	for _, b := range bs {
		msg.Buildings = append(msg.Buildings, buildingView(b, names[b.OwnerID]))
	}
	return msg
}

// Disconnected tells everyone else a participant's session went away.
func (e *Engine) Disconnected(id int64) {
	e.broadcastExcept(id, e.event(protocol.EvPlayerDisconnected, map[string]any{"id": id}))
}

func (e *Engine) pushState(id int64) {
	if e.bc == nil {
		return
	}
	if msg, ok := e.StateFor(id); ok {
		e.bc.SendTo(id, msg)
	}
}

func (e *Engine) notify(id int64, code, text string) {
	if e.bc == nil {
		return
	}
	if !protocol.IsKnownCode(code) {
		code = protocol.ErrInternal
	}
	e.bc.SendTo(id, protocol.NoticeMsg{
		Type:            protocol.TypeNotice,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Text:            text,
	})
}

func (e *Engine) broadcastNotice(text string) {
	if e.bc == nil {
		return
	}
	e.bc.Broadcast(protocol.NoticeMsg{
		Type:            protocol.TypeNotice,
		ProtocolVersion: protocol.Version,
		Text:            text,
	})
}

func (e *Engine) broadcast(msg any) {
	if e.bc != nil {
		e.bc.Broadcast(msg)
	}
}

func (e *Engine) broadcastExcept(id int64, msg any) {
	if e.bc != nil {
		e.bc.BroadcastExcept(id, msg)
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.log != nil {
		e.log.Printf(format, args...)
	}
}
