package sim

import (
	"strings"
	"sync"
	"testing"

	"warcity.io/internal/protocol"
	"warcity.io/internal/rules"
	"warcity.io/internal/state"
)

// recorder captures everything the engine pushes to the sync layer.
type recorder struct {
	mu   sync.Mutex
	msgs []recorded
}

type recorded struct {
	to     int64 // >0: private channel
	except int64 // >0: global minus this settlement
	msg    any
}

func (r *recorder) SendTo(id int64, msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, recorded{to: id, msg: msg})
}

func (r *recorder) Broadcast(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, recorded{msg: msg})
}

func (r *recorder) BroadcastExcept(id int64, msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, recorded{except: id, msg: msg})
}

func (r *recorder) notices(id int64) []protocol.NoticeMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.NoticeMsg
	for _, m := range r.msgs {
		if n, ok := m.msg.(protocol.NoticeMsg); ok && m.to == id {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) lastNotice(t *testing.T, id int64) protocol.NoticeMsg {
	t.Helper()
	ns := r.notices(id)
	if len(ns) == 0 {
		t.Fatalf("no notices for settlement %d", id)
	}
	return ns[len(ns)-1]
}

func (r *recorder) eventCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if ev, ok := m.msg.(protocol.EventMsg); ok && ev.Name == name {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

func newTestEngine() (*Engine, *state.Store, *recorder) {
	store := state.NewStore()
	rec := &recorder{}
	return New(store, rules.Defaults(), rec, nil), store, rec
}

// newSettlement creates a settlement with default starting stocks at (x, y)
// and places its city there.
func newSettlement(t *testing.T, e *Engine, store *state.Store, name string, x, y float64) int64 {
	t.Helper()
	r := e.Rules()
	s, err := store.Create(state.Settlement{
		Username:    name,
		Gold:        r.Start.Gold,
		Food:        r.Start.Food,
		Water:       r.Start.Water,
		PeopleCount: r.Start.People,
		X:           x,
		Y:           y,
	})
	if err != nil {
		t.Fatalf("create settlement: %v", err)
	}
	e.Dispatch(s.ID, protocol.CmdMsg{Name: protocol.CmdPlaceCity})
	got, _ := store.Get(s.ID)
	if !got.IsPlaced {
		t.Fatalf("settlement %q not placed", name)
	}
	return s.ID
}

func addKnights(t *testing.T, store *state.Store, id int64, n int) []int64 {
	t.Helper()
	var ids []int64
	err := store.Mutate(id, func(tx *state.Tx) error {
		for i := 0; i < n; i++ {
			k := tx.AddKnight(state.Knight{Name: "k", Level: 1, Health: 100, MaxHealth: 100})
			ids = append(ids, k.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("add knights: %v", err)
	}
	return ids
}

func addBuilding(t *testing.T, store *state.Store, id int64, kind string, health int) int64 {
	t.Helper()
	var bid int64
	err := store.Mutate(id, func(tx *state.Tx) error {
		b := tx.AddBuilding(state.Building{
			Kind:      kind,
			X:         10,
			Y:         10,
			WorldX:    tx.S.CityX,
			WorldY:    tx.S.CityY,
			Health:    health,
			MaxHealth: health,
		})
		bid = b.ID
		return nil
	})
	if err != nil {
		t.Fatalf("add building: %v", err)
	}
	return bid
}

func wantNoticeContains(t *testing.T, n protocol.NoticeMsg, sub string) {
	t.Helper()
	if !strings.Contains(n.Text, sub) {
		t.Fatalf("notice %q does not contain %q", n.Text, sub)
	}
}
