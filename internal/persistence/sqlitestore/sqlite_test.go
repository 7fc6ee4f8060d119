package sqlitestore

import (
	"path/filepath"
	"testing"

	"warcity.io/internal/state"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "warcity.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAccounts_CreateAndGet(t *testing.T) {
	db := openTestDB(t)

	if err := db.CreateAccount("alice", "hash-1", 7); err != nil {
		t.Fatalf("create account: %v", err)
	}
	hash, id, err := db.GetAccount("alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if hash != "hash-1" || id != 7 {
		t.Fatalf("account = %q/%d, want hash-1/7", hash, id)
	}

	if err := db.CreateAccount("alice", "hash-2", 8); err == nil {
		t.Fatalf("duplicate username accepted")
	}
	if _, _, err := db.GetAccount("nobody"); err == nil {
		t.Fatalf("missing account did not error")
	}
}

func TestSink_WriteBehindRoundtrip(t *testing.T) {
	db := openTestDB(t)

	st := state.NewStore()
	st.SetSink(db)

	s, err := st.Create(state.Settlement{
		Username: "alice", Gold: 750, Food: 450, Water: 500,
		PeopleCount: 5, X: 100, Y: 200, CityX: 100, CityY: 200, IsPlaced: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var doorID, knightID int64
	err = st.Mutate(s.ID, func(tx *state.Tx) error {
		tx.AddBuilding(state.Building{Kind: "main_house", X: 10, Y: 10, WorldX: 100, WorldY: 200, Health: 500, MaxHealth: 500})
		doorID = tx.AddBuilding(state.Building{Kind: "door", X: 11, Y: 10, WorldX: 150, WorldY: 200, Health: 200, MaxHealth: 200, State: "closed"}).ID
		knightID = tx.AddKnight(state.Knight{Name: "Knight 1", Level: 2, Health: 80, MaxHealth: 100}).ID
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	db.Flush()

	restored := state.NewStore()
	n, err := db.Load(restored)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 1 {
		t.Fatalf("restored %d settlements, want 1", n)
	}
	got, bs, ks, ok := restored.View(s.ID)
	if !ok {
		t.Fatalf("settlement missing after load")
	}
	if got.Gold != 750 || !got.IsPlaced || got.CityY != 200 {
		t.Fatalf("settlement row = %+v", got)
	}
	if len(bs) != 2 || len(ks) != 1 {
		t.Fatalf("aggregate = %d buildings %d knights", len(bs), len(ks))
	}
	for _, b := range bs {
		if b.ID == doorID && b.State != "closed" {
			t.Fatalf("door state lost: %+v", b)
		}
	}
	if ks[0].ID != knightID || ks[0].Level != 2 || ks[0].Health != 80 {
		t.Fatalf("knight lost fields: %+v", ks[0])
	}
}

func TestSink_DeletesPropagate(t *testing.T) {
	db := openTestDB(t)

	st := state.NewStore()
	st.SetSink(db)
	s, _ := st.Create(state.Settlement{Username: "alice"})
	var bid, kid int64
	_ = st.Mutate(s.ID, func(tx *state.Tx) error {
		bid = tx.AddBuilding(state.Building{Kind: "wall", Health: 300, MaxHealth: 300}).ID
		kid = tx.AddKnight(state.Knight{Name: "k", Level: 1, Health: 100, MaxHealth: 100}).ID
		return nil
	})
	_ = st.Mutate(s.ID, func(tx *state.Tx) error {
		tx.DeleteBuilding(bid)
		tx.DeleteKnight(kid)
		return nil
	})
	db.Flush()

	restored := state.NewStore()
	if _, err := db.Load(restored); err != nil {
		t.Fatalf("load: %v", err)
	}
	_, bs, ks, _ := restored.View(s.ID)
	if len(bs) != 0 || len(ks) != 0 {
		t.Fatalf("deleted entities survived: %d buildings %d knights", len(bs), len(ks))
	}
}

func TestLoad_AdvancesStoreCounters(t *testing.T) {
	db := openTestDB(t)

	first := state.NewStore()
	first.SetSink(db)
	s, _ := first.Create(state.Settlement{Username: "alice"})
	_ = first.Mutate(s.ID, func(tx *state.Tx) error {
		tx.AddBuilding(state.Building{Kind: "wall", Health: 300, MaxHealth: 300})
		return nil
	})
	db.Flush()

	restored := state.NewStore()
	if _, err := db.Load(restored); err != nil {
		t.Fatalf("load: %v", err)
	}
	fresh, err := restored.Create(state.Settlement{Username: "bob"})
	if err != nil {
		t.Fatalf("create after load: %v", err)
	}
	if fresh.ID <= s.ID {
		t.Fatalf("id %d collides with restored id space", fresh.ID)
	}
}
