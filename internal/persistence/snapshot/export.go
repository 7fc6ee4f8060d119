package snapshot

import (
	"time"

	"warcity.io/internal/state"
)

// Capture exports the whole in-memory world. Each aggregate is copied under
// its own lock; the snapshot is per-settlement consistent, which is the same
// consistency unit every command and tick works at.
func Capture(st *state.Store) SnapshotV1 {
	var snap SnapshotV1
	for _, id := range st.IDs() {
		row, buildings, knights, ok := st.View(id)
		if !ok {
			continue
		}
		snap.Settlements = append(snap.Settlements, settlementV1(row))
		for _, b := range buildings {
			snap.Buildings = append(snap.Buildings, BuildingV1(b))
			if b.ID > snap.Counters.NextBuilding {
				snap.Counters.NextBuilding = b.ID
			}
		}
		for _, k := range knights {
			snap.Knights = append(snap.Knights, KnightV1(k))
			if k.ID > snap.Counters.NextKnight {
				snap.Counters.NextKnight = k.ID
			}
		}
		if id > snap.Counters.NextSettlement {
			snap.Counters.NextSettlement = id
		}
	}
	snap.Header = Header{
		Version:     FormatVersion,
		CreatedAt:   time.Now().Unix(),
		Settlements: len(snap.Settlements),
	}
	return snap
}

// Seed restores a snapshot into an empty store.
func Seed(st *state.Store, snap SnapshotV1) {
	buildings := map[int64][]state.Building{}
	for _, b := range snap.Buildings {
		buildings[b.OwnerID] = append(buildings[b.OwnerID], state.Building(b))
	}
	knights := map[int64][]state.Knight{}
	for _, k := range snap.Knights {
		knights[k.OwnerID] = append(knights[k.OwnerID], state.Knight(k))
	}
	for _, row := range snap.Settlements {
		s := state.Settlement{
			ID:          row.ID,
			Username:    row.Username,
			Gold:        row.Gold,
			Food:        row.Food,
			Water:       row.Water,
			PeopleCount: row.PeopleCount,
			X:           row.X,
			Y:           row.Y,
			CityX:       row.CityX,
			CityY:       row.CityY,
			IsPlaced:    row.IsPlaced,
		}
		if row.ProtectedUntil > 0 {
			s.ProtectedUntil = time.Unix(row.ProtectedUntil, 0)
		}
		st.Restore(s, buildings[row.ID], knights[row.ID])
	}
}

func settlementV1(s state.Settlement) SettlementV1 {
	v := SettlementV1{
		ID:          s.ID,
		Username:    s.Username,
		Gold:        s.Gold,
		Food:        s.Food,
		Water:       s.Water,
		PeopleCount: s.PeopleCount,
		X:           s.X,
		Y:           s.Y,
		CityX:       s.CityX,
		CityY:       s.CityY,
		IsPlaced:    s.IsPlaced,
	}
	if !s.ProtectedUntil.IsZero() {
		v.ProtectedUntil = s.ProtectedUntil.Unix()
	}
	return v
}
