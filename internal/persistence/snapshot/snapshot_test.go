package snapshot

import (
	"path/filepath"
	"testing"

	"warcity.io/internal/state"
)

func seedWorld(t *testing.T) *state.Store {
	t.Helper()
	st := state.NewStore()
	s, err := st.Create(state.Settlement{
		Username: "alice", Gold: 750, Food: 450, Water: 500,
		PeopleCount: 5, X: 100, Y: 200, CityX: 100, CityY: 200, IsPlaced: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	err = st.Mutate(s.ID, func(tx *state.Tx) error {
		tx.AddBuilding(state.Building{Kind: "main_house", X: 10, Y: 10, WorldX: 100, WorldY: 200, Health: 500, MaxHealth: 500})
		tx.AddBuilding(state.Building{Kind: "door", X: 11, Y: 10, WorldX: 150, WorldY: 200, Health: 200, MaxHealth: 200, State: "closed"})
		tx.AddKnight(state.Knight{Name: "Knight 1", Level: 2, Health: 80, MaxHealth: 100})
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if _, err := st.Create(state.Settlement{Username: "bob", Gold: 1000, Food: 500, Water: 500, PeopleCount: 5, X: 5, Y: 6}); err != nil {
		t.Fatalf("create bob: %v", err)
	}
	return st
}

func TestSnapshot_CaptureWriteReadSeedRoundtrip(t *testing.T) {
	src := seedWorld(t)
	snap := Capture(src)
	if snap.Header.Version != FormatVersion || snap.Header.Settlements != 2 {
		t.Fatalf("header = %+v", snap.Header)
	}

	dir := t.TempDir()
	path := PathFor(dir, snap.Header.CreatedAt)
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got.Settlements) != 2 || len(got.Buildings) != 2 || len(got.Knights) != 1 {
		t.Fatalf("read back %d/%d/%d entities", len(got.Settlements), len(got.Buildings), len(got.Knights))
	}

	dst := state.NewStore()
	Seed(dst, got)

	alice, ok := dst.GetByName("alice")
	if !ok {
		t.Fatalf("alice missing after seed")
	}
	if alice.Gold != 750 || !alice.IsPlaced || alice.CityX != 100 {
		t.Fatalf("alice row = %+v", alice)
	}
	_, bs, ks, _ := dst.View(alice.ID)
	if len(bs) != 2 || len(ks) != 1 {
		t.Fatalf("alice aggregate = %d buildings %d knights", len(bs), len(ks))
	}
	if bs[1].State != "closed" {
		t.Fatalf("door state lost: %+v", bs[1])
	}
	if ks[0].Level != 2 || ks[0].Health != 80 {
		t.Fatalf("knight lost fields: %+v", ks[0])
	}

	// Seeded counters must not collide with restored ids.
	fresh, err := dst.Create(state.Settlement{Username: "carol"})
	if err != nil {
		t.Fatalf("create after seed: %v", err)
	}
	if fresh.ID <= alice.ID {
		t.Fatalf("id %d collides with seeded id space", fresh.ID)
	}
}

func TestSnapshot_LatestAndPrune(t *testing.T) {
	dir := t.TempDir()
	src := seedWorld(t)

	for i, at := range []int64{100, 200, 300} {
		snap := Capture(src)
		snap.Header.CreatedAt = at
		if err := WriteSnapshot(PathFor(dir, at), snap); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if got := Latest(dir); got != filepath.Join(dir, "world_300.snap.zst") {
		t.Fatalf("Latest = %q", got)
	}
	if err := Prune(dir, 1); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if got := list(dir); len(got) != 1 || got[0] != "world_300.snap.zst" {
		t.Fatalf("after prune: %v", got)
	}

	if got := Latest(t.TempDir()); got != "" {
		t.Fatalf("Latest on empty dir = %q", got)
	}
}
