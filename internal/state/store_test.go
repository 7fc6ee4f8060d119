package state

import (
	"errors"
	"testing"
)

func TestStore_CreateRejectsDuplicateName(t *testing.T) {
	st := NewStore()
	a, err := st.Create(Settlement{Username: "alice", Gold: 1000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID == 0 {
		t.Fatalf("create did not assign an id")
	}
	if _, err := st.Create(Settlement{Username: "alice"}); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("duplicate create err = %v, want ErrNameTaken", err)
	}
	if got, ok := st.GetByName("alice"); !ok || got.ID != a.ID {
		t.Fatalf("GetByName = %+v/%v", got, ok)
	}
}

func TestMutate_ErrorDiscardsStagedOps(t *testing.T) {
	st := NewStore()
	s, _ := st.Create(Settlement{Username: "alice", Gold: 100})

	sentinel := errors.New("refused")
	err := st.Mutate(s.ID, func(tx *Tx) error {
		tx.S.Gold = 0
		tx.AddBuilding(Building{Kind: "wall", Health: 300, MaxHealth: 300})
		tx.AddKnight(Knight{Name: "k", Level: 1, Health: 100, MaxHealth: 100})
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}

	got, _, ks, _ := st.View(s.ID)
	if got.Gold != 100 {
		t.Fatalf("aborted mutation changed gold: %v", got.Gold)
	}
	if len(ks) != 0 {
		t.Fatalf("aborted mutation kept knights: %+v", ks)
	}
	bs := st.AllBuildings()
	if len(bs) != 0 {
		t.Fatalf("aborted mutation kept buildings: %+v", bs)
	}
}

func TestMutate_StagedOpsVisibleWithinTx(t *testing.T) {
	st := NewStore()
	s, _ := st.Create(Settlement{Username: "alice"})

	err := st.Mutate(s.ID, func(tx *Tx) error {
		b := tx.AddBuilding(Building{Kind: "farm", Health: 80, MaxHealth: 80})
		if tx.CountBuildings("farm") != 1 {
			t.Fatalf("staged building invisible to CountBuildings")
		}
		if _, ok := tx.Building(b.ID); !ok {
			t.Fatalf("staged building invisible to Building")
		}
		tx.DeleteBuilding(b.ID)
		if tx.CountBuildings("farm") != 0 {
			t.Fatalf("staged delete invisible to CountBuildings")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
}

func TestFindBuilding_TracksOwnershipIndex(t *testing.T) {
	st := NewStore()
	s, _ := st.Create(Settlement{Username: "alice"})

	var bid int64
	_ = st.Mutate(s.ID, func(tx *Tx) error {
		bid = tx.AddBuilding(Building{Kind: "wall", Health: 300, MaxHealth: 300}).ID
		return nil
	})
	if owner, ok := st.FindBuilding(bid); !ok || owner != s.ID {
		t.Fatalf("FindBuilding = %v/%v, want %v/true", owner, ok, s.ID)
	}

	_ = st.Mutate(s.ID, func(tx *Tx) error {
		tx.DeleteBuilding(bid)
		return nil
	})
	if _, ok := st.FindBuilding(bid); ok {
		t.Fatalf("deleted building still indexed")
	}
}

func TestDeleteAllBuildings_EmptiesAggregate(t *testing.T) {
	st := NewStore()
	s, _ := st.Create(Settlement{Username: "alice"})
	_ = st.Mutate(s.ID, func(tx *Tx) error {
		tx.AddBuilding(Building{Kind: "main_house", Health: 500, MaxHealth: 500})
		tx.AddBuilding(Building{Kind: "wall", Health: 300, MaxHealth: 300})
		return nil
	})

	var razed []int64
	_ = st.Mutate(s.ID, func(tx *Tx) error {
		razed = tx.DeleteAllBuildings()
		return nil
	})
	if len(razed) != 2 {
		t.Fatalf("razed ids = %v, want 2 entries", razed)
	}
	if bs := st.AllBuildings(); len(bs) != 0 {
		t.Fatalf("buildings remain after raze: %+v", bs)
	}
}

func TestRestore_AdvancesCountersPastSeededIDs(t *testing.T) {
	st := NewStore()
	st.Restore(
		Settlement{ID: 7, Username: "alice"},
		[]Building{{ID: 40, OwnerID: 7, Kind: "wall", Health: 300, MaxHealth: 300}},
		[]Knight{{ID: 13, OwnerID: 7, Name: "k", Level: 1, Health: 100, MaxHealth: 100}},
	)

	s, err := st.Create(Settlement{Username: "bob"})
	if err != nil {
		t.Fatalf("create after restore: %v", err)
	}
	if s.ID <= 7 {
		t.Fatalf("settlement id %d collides with restored id space", s.ID)
	}
	_ = st.Mutate(s.ID, func(tx *Tx) error {
		if b := tx.AddBuilding(Building{Kind: "farm", Health: 80, MaxHealth: 80}); b.ID <= 40 {
			t.Fatalf("building id %d collides with restored id space", b.ID)
		}
		if k := tx.AddKnight(Knight{Name: "k2", Level: 1, Health: 100, MaxHealth: 100}); k.ID <= 13 {
			t.Fatalf("knight id %d collides with restored id space", k.ID)
		}
		return nil
	})
	if owner, ok := st.FindBuilding(40); !ok || owner != 7 {
		t.Fatalf("restored building not indexed: %v/%v", owner, ok)
	}
}

type recordingSink struct {
	settlements int
	buildings   int
	deletes     int
	knights     int
	knightDels  int
}

func (r *recordingSink) UpsertSettlement(Settlement) { r.settlements++ }
func (r *recordingSink) UpsertBuilding(Building)     { r.buildings++ }
func (r *recordingSink) DeleteBuilding(int64)        { r.deletes++ }
func (r *recordingSink) UpsertKnight(Knight)         { r.knights++ }
func (r *recordingSink) DeleteKnight(int64)          { r.knightDels++ }

func TestSink_SeesCommittedOpsOnly(t *testing.T) {
	st := NewStore()
	sink := &recordingSink{}
	st.SetSink(sink)

	s, _ := st.Create(Settlement{Username: "alice"})
	if sink.settlements != 1 {
		t.Fatalf("create upserts = %d, want 1", sink.settlements)
	}

	_ = st.Mutate(s.ID, func(tx *Tx) error {
		tx.AddBuilding(Building{Kind: "wall", Health: 300, MaxHealth: 300})
		tx.AddKnight(Knight{Name: "k", Level: 1, Health: 100, MaxHealth: 100})
		return nil
	})
	if sink.buildings != 1 || sink.knights != 1 {
		t.Fatalf("sink after commit: buildings=%d knights=%d", sink.buildings, sink.knights)
	}

	before := *sink
	_ = st.Mutate(s.ID, func(tx *Tx) error {
		tx.AddBuilding(Building{Kind: "farm", Health: 80, MaxHealth: 80})
		return errors.New("abort")
	})
	if *sink != before {
		t.Fatalf("aborted mutation reached the sink: %+v", sink)
	}
}
