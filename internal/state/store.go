package state

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ErrNotFound   = errors.New("settlement not found")
	ErrNameTaken  = errors.New("username already exists")
)

// Sink receives entity changes after a mutation commits, for write-behind
// persistence. Implementations must not block the caller.
type Sink interface {
	UpsertSettlement(Settlement)
	UpsertBuilding(Building)
	DeleteBuilding(id int64)
	UpsertKnight(Knight)
	DeleteKnight(id int64)
}

// Store is the authoritative in-memory world state. The unit of atomicity is
// the settlement aggregate: one settlement row plus its buildings and knights,
// all guarded by that settlement's lock. Every invariant in the game is
// per-owner, so aggregate-level locking makes each command's validate+apply
// step atomic without a global lock.
//
// Cross-settlement operations are an ordered pair of single-aggregate
// mutations (payer first) and are never nested: Mutate must not be called
// from inside another Mutate.
type Store struct {
	mu            sync.RWMutex
	entries       map[int64]*entry
	byName        map[string]int64
	buildingOwner map[int64]int64

	nextSettlement atomic.Int64
	nextBuilding   atomic.Int64
	nextKnight     atomic.Int64

	sink Sink
}

type entry struct {
	mu        sync.Mutex
	s         Settlement
	buildings map[int64]Building
	knights   map[int64]Knight
}

func NewStore() *Store {
	return &Store{
		entries:       map[int64]*entry{},
		byName:        map[string]int64{},
		buildingOwner: map[int64]int64{},
	}
}

// SetSink attaches a persistence sink. Call before the store goes live.
func (st *Store) SetSink(s Sink) { st.sink = s }

// Create registers a new settlement and assigns its id. The caller supplies
// starting stocks and spawn position.
func (st *Store) Create(s Settlement) (Settlement, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.byName[s.Username]; ok {
		return Settlement{}, ErrNameTaken
	}
	s.ID = st.nextSettlement.Add(1)
	st.entries[s.ID] = &entry{
		s:         s,
		buildings: map[int64]Building{},
		knights:   map[int64]Knight{},
	}
	st.byName[s.Username] = s.ID
	if st.sink != nil {
		st.sink.UpsertSettlement(s)
	}
	return s, nil
}

// Restore seeds one aggregate from durable storage without notifying the
// sink. Counters are advanced past every restored id.
func (st *Store) Restore(s Settlement, buildings []Building, knights []Knight) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e := &entry{
		s:         s,
		buildings: map[int64]Building{},
		knights:   map[int64]Knight{},
	}
	for _, b := range buildings {
		e.buildings[b.ID] = b
		st.buildingOwner[b.ID] = s.ID
		advance(&st.nextBuilding, b.ID)
	}
	for _, k := range knights {
		e.knights[k.ID] = k
		advance(&st.nextKnight, k.ID)
	}
	st.entries[s.ID] = e
	st.byName[s.Username] = s.ID
	advance(&st.nextSettlement, s.ID)
}

func advance(c *atomic.Int64, id int64) {
	for {
		cur := c.Load()
		if cur >= id {
			return
		}
		if c.CompareAndSwap(cur, id) {
			return
		}
	}
}

func (st *Store) lookup(id int64) *entry {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.entries[id]
}

// Get returns a copy of the settlement row.
func (st *Store) Get(id int64) (Settlement, bool) {
	e := st.lookup(id)
	if e == nil {
		return Settlement{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s, true
}

func (st *Store) GetByName(username string) (Settlement, bool) {
	st.mu.RLock()
	id, ok := st.byName[username]
	st.mu.RUnlock()
	if !ok {
		return Settlement{}, false
	}
	return st.Get(id)
}

// View returns a consistent copy of the whole aggregate.
func (st *Store) View(id int64) (Settlement, []Building, []Knight, bool) {
	e := st.lookup(id)
	if e == nil {
		return Settlement{}, nil, nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s, sortedBuildings(e.buildings), sortedKnights(e.knights), true
}

// FindBuilding routes a world-visible building id to its owner.
func (st *Store) FindBuilding(buildingID int64) (ownerID int64, ok bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ownerID, ok = st.buildingOwner[buildingID]
	return
}

// IDs returns every settlement id in ascending order; tick passes use it to
// visit aggregates in a stable order.
func (st *Store) IDs() []int64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]int64, 0, len(st.entries))
	for id := range st.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Settlements returns copies of every settlement row, ascending by id.
func (st *Store) Settlements() []Settlement {
	ids := st.IDs()
	out := make([]Settlement, 0, len(ids))
	for _, id := range ids {
		if s, ok := st.Get(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// AllBuildings returns copies of every building in the world, ascending by id.
func (st *Store) AllBuildings() []Building {
	ids := st.IDs()
	var out []Building
	for _, id := range ids {
		e := st.lookup(id)
		if e == nil {
			continue
		}
		e.mu.Lock()
		out = append(out, sortedBuildings(e.buildings)...)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Mutate runs fn exclusively against one aggregate. fn sees a copy of the
// settlement row and stages building/knight changes on the Tx; nothing
// becomes visible until fn returns nil. An error from fn discards every
// staged change, so handlers get validate-then-apply for free.
func (st *Store) Mutate(id int64, fn func(tx *Tx) error) error {
	e := st.lookup(id)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := &Tx{st: st, e: e, S: e.s}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Tx is one staged mutation of a settlement aggregate. S is a private copy of
// the settlement row; reads of buildings/knights reflect pre-mutation state
// plus any ops already staged on this Tx.
type Tx struct {
	S  Settlement
	st *Store
	e  *entry

	ops []op
}

type opKind int

const (
	opPutBuilding opKind = iota + 1
	opDelBuilding
	opPutKnight
	opDelKnight
)

type op struct {
	kind     opKind
	building Building
	knight   Knight
	id       int64
}

func (tx *Tx) Buildings() []Building {
	m := make(map[int64]Building, len(tx.e.buildings))
	for id, b := range tx.e.buildings {
		m[id] = b
	}
	tx.overlay(m, nil)
	return sortedBuildings(m)
}

func (tx *Tx) Knights() []Knight {
	m := make(map[int64]Knight, len(tx.e.knights))
	for id, k := range tx.e.knights {
		m[id] = k
	}
	tx.overlay(nil, m)
	return sortedKnights(m)
}

func (tx *Tx) overlay(bs map[int64]Building, ks map[int64]Knight) {
	for _, o := range tx.ops {
		switch o.kind {
		case opPutBuilding:
			if bs != nil {
				bs[o.building.ID] = o.building
			}
		case opDelBuilding:
			if bs != nil {
				delete(bs, o.id)
			}
		case opPutKnight:
			if ks != nil {
				ks[o.knight.ID] = o.knight
			}
		case opDelKnight:
			if ks != nil {
				delete(ks, o.id)
			}
		}
	}
}

func (tx *Tx) Building(id int64) (Building, bool) {
	for _, b := range tx.Buildings() {
		if b.ID == id {
			return b, true
		}
	}
	return Building{}, false
}

func (tx *Tx) Knight(id int64) (Knight, bool) {
	for _, k := range tx.Knights() {
		if k.ID == id {
			return k, true
		}
	}
	return Knight{}, false
}

// CountBuildings counts buildings of one kind, staged ops included.
func (tx *Tx) CountBuildings(kind string) int {
	n := 0
	for _, b := range tx.Buildings() {
		if b.Kind == kind {
			n++
		}
	}
	return n
}

// AddBuilding stages a new building and returns it with its id assigned. The
// id is allocated eagerly; a later abort leaves an unused id, which is fine.
func (tx *Tx) AddBuilding(b Building) Building {
	b.ID = tx.st.nextBuilding.Add(1)
	b.OwnerID = tx.S.ID
	tx.ops = append(tx.ops, op{kind: opPutBuilding, building: b})
	return b
}

// PutBuilding stages an update of an existing building (e.g. a health change).
func (tx *Tx) PutBuilding(b Building) {
	tx.ops = append(tx.ops, op{kind: opPutBuilding, building: b})
}

func (tx *Tx) DeleteBuilding(id int64) {
	tx.ops = append(tx.ops, op{kind: opDelBuilding, id: id})
}

// DeleteAllBuildings stages removal of the aggregate's whole building set.
func (tx *Tx) DeleteAllBuildings() []int64 {
	bs := tx.Buildings()
	ids := make([]int64, 0, len(bs))
	for _, b := range bs {
		ids = append(ids, b.ID)
		tx.ops = append(tx.ops, op{kind: opDelBuilding, id: b.ID})
	}
	return ids
}

func (tx *Tx) AddKnight(k Knight) Knight {
	k.ID = tx.st.nextKnight.Add(1)
	k.OwnerID = tx.S.ID
	tx.ops = append(tx.ops, op{kind: opPutKnight, knight: k})
	return k
}

func (tx *Tx) PutKnight(k Knight) {
	tx.ops = append(tx.ops, op{kind: opPutKnight, knight: k})
}

func (tx *Tx) DeleteKnight(id int64) {
	tx.ops = append(tx.ops, op{kind: opDelKnight, id: id})
}

func (tx *Tx) commit() {
	tx.e.s = tx.S
	if tx.st.sink != nil {
		tx.st.sink.UpsertSettlement(tx.S)
	}
	for _, o := range tx.ops {
		switch o.kind {
		case opPutBuilding:
			tx.e.buildings[o.building.ID] = o.building
			tx.st.mu.Lock()
			tx.st.buildingOwner[o.building.ID] = tx.S.ID
			tx.st.mu.Unlock()
			if tx.st.sink != nil {
				tx.st.sink.UpsertBuilding(o.building)
			}
		case opDelBuilding:
			delete(tx.e.buildings, o.id)
			tx.st.mu.Lock()
			delete(tx.st.buildingOwner, o.id)
			tx.st.mu.Unlock()
			if tx.st.sink != nil {
				tx.st.sink.DeleteBuilding(o.id)
			}
		case opPutKnight:
			tx.e.knights[o.knight.ID] = o.knight
			if tx.st.sink != nil {
				tx.st.sink.UpsertKnight(o.knight)
			}
		case opDelKnight:
			delete(tx.e.knights, o.id)
			if tx.st.sink != nil {
				tx.st.sink.DeleteKnight(o.id)
			}
		}
	}
}

func sortedBuildings(m map[int64]Building) []Building {
	out := make([]Building, 0, len(m))
	for _, b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedKnights(m map[int64]Knight) []Knight {
	out := make([]Knight, 0, len(m))
	for _, k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
